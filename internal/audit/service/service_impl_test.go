package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/audit/repository"
	"github.com/smallbiznis/carehub/internal/clock"
	obscontext "github.com/smallbiznis/carehub/internal/observability/context"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (auditdomain.Service, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk
}

func TestAuditLogUsesContextActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := obscontext.WithActor(context.Background(), "user", "operator-7")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	ctx = obscontext.WithClient(ctx, "10.0.0.1", "pos/1.0")

	target := "123"
	err := svc.AuditLog(ctx, auditdomain.Actor{}, "account.blocked", "account", &target, map[string]any{
		"reason":       "overdue",
		"access_token": "APP_USR_secret1234",
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	require.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	require.Equal(t, "operator-7", *entry.ActorID)
	require.Equal(t, "req-1", entry.Metadata["request_id"])
	require.Equal(t, "APP_USR_****1234", entry.Metadata["access_token"])
	require.NotNil(t, entry.IPAddress)
	require.Equal(t, "10.0.0.1", *entry.IPAddress)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), auditdomain.SystemActor(), " ", "invoice", nil, nil)
	require.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginates(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, auditdomain.SystemActor(), "invoice.overdue", "invoice", nil, nil))
		clk.Advance(time.Minute)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	require.False(t, second.HasMore)
}

func TestListRejectsBadToken(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "!!"},
	})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
