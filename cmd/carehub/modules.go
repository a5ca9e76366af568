package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/account"
	"github.com/smallbiznis/carehub/internal/audit"
	"github.com/smallbiznis/carehub/internal/cache"
	"github.com/smallbiznis/carehub/internal/cashsession"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/events"
	"github.com/smallbiznis/carehub/internal/invoice"
	"github.com/smallbiznis/carehub/internal/migration"
	"github.com/smallbiznis/carehub/internal/observability"
	"github.com/smallbiznis/carehub/internal/order"
	"github.com/smallbiznis/carehub/internal/payment"
	"github.com/smallbiznis/carehub/internal/ratelimit"
	"github.com/smallbiznis/carehub/internal/scheduler"
	"github.com/smallbiznis/carehub/internal/subscription"
	"github.com/smallbiznis/carehub/internal/syncintake"
	"github.com/smallbiznis/carehub/pkg/db"
	"go.uber.org/fx"
)

// infrastructure is what every command needs before touching the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

// domain wires every service and the background plumbing they share.
func domain() fx.Option {
	return fx.Options(
		migration.Module,
		cache.Module,
		ratelimit.Module,
		events.Module,
		audit.Module,
		account.Module,
		cashsession.Module,
		order.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,
		syncintake.Module,
		scheduler.Module,
	)
}

// RegisterSnowflake builds the id generator; SNOWFLAKE_NODE separates replicas.
func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := strings.TrimSpace(os.Getenv("SNOWFLAKE_NODE")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}

// runOnce starts app, lets its invokes do the work, and stops it again.
func runOnce(app *fx.App) error {
	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	return app.Stop(stopCtx)
}
