package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	"github.com/smallbiznis/carehub/internal/config"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	"github.com/smallbiznis/carehub/internal/observability"
	obsmiddleware "github.com/smallbiznis/carehub/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	obstracing "github.com/smallbiznis/carehub/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	paymentdomain "github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/internal/ratelimit"
	"github.com/smallbiznis/carehub/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
	syncdomain "github.com/smallbiznis/carehub/internal/syncintake/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	if httpMetrics != nil {
		r.Use(httpMetrics.GinMiddleware())
	}
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	accountSvc      accountdomain.Service
	orderSvc        orderdomain.Service
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	paymentSvc      paymentdomain.Service
	cashSvc         cashdomain.Service
	syncSvc         syncdomain.Service
	auditSvc        auditdomain.Service
	syncLimiter     *ratelimit.SyncLimiter
	scheduler       *scheduler.Scheduler
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AccountSvc      accountdomain.Service
	OrderSvc        orderdomain.Service
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	CashSvc         cashdomain.Service
	SyncSvc         syncdomain.Service
	AuditSvc        auditdomain.Service    `optional:"true"`
	SyncLimiter     *ratelimit.SyncLimiter `optional:"true"`
	Scheduler       *scheduler.Scheduler   `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		accountSvc:      p.AccountSvc,
		orderSvc:        p.OrderSvc,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		paymentSvc:      p.PaymentSvc,
		cashSvc:         p.CashSvc,
		syncSvc:         p.SyncSvc,
		auditSvc:        p.AuditSvc,
		syncLimiter:     p.SyncLimiter,
		scheduler:       p.Scheduler,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Accounts --------
	api.POST("/accounts", s.CreateAccount)
	api.GET("/accounts/:id", s.GetAccount)
	api.POST("/accounts/:id/debit", s.DebitAccount)
	api.POST("/accounts/:id/credit", s.CreditAccount)
	api.POST("/accounts/:id/limit", s.AdjustAccountLimit)
	api.POST("/accounts/:id/adjust", s.AdjustAccount)
	api.POST("/accounts/:id/block", s.BlockAccount)
	api.POST("/accounts/:id/unblock", s.UnblockAccount)
	api.POST("/accounts/:id/retire", s.RetireAccount)
	api.GET("/accounts/:id/transactions", s.ListAccountTransactions)
	api.GET("/accounts/:id/verify", s.VerifyAccountLedger)

	// -------- Orders --------
	api.POST("/orders", s.CreateOrder)
	api.GET("/orders/:id", s.GetOrder)
	api.POST("/orders/:id/cancel", s.CancelOrder)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.GenerateConsumptionInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.GET("/invoices/:id/payments", s.ListInvoicePayments)
	api.POST("/invoices/:id/issue", s.IssueInvoice)
	api.POST("/invoices/:id/discount", s.ApplyInvoiceDiscount)
	api.POST("/invoices/:id/payments", s.RegisterInvoicePayment)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)

	// -------- Subscriptions --------
	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/invoice", s.GenerateSubscriptionInvoice)
	for _, action := range subscriptionActions {
		api.POST("/subscriptions/:id/"+action, s.TransitionSubscription(action))
	}

	// -------- Payment intents --------
	api.POST("/payment-intents", s.CreatePaymentIntent)
	api.GET("/payment-intents/:id", s.GetPaymentIntent)
	api.POST("/payment-intents/:id/check", s.CheckPaymentIntent)
	api.POST("/payment-intents/:id/cancel", s.CancelPaymentIntent)
	api.POST("/payment-intents/:id/refund", s.RefundPaymentIntent)
	api.POST("/payment-intents/:id/confirm", s.ConfirmManualPaymentIntent)

	// -------- Cash sessions --------
	api.POST("/cash-sessions", s.OpenCashSession)
	api.GET("/cash-sessions/current", s.CurrentCashSession)
	api.GET("/cash-sessions/:id", s.GetCashSession)
	api.GET("/cash-sessions/:id/summary", s.CashSessionSummary)
	api.POST("/cash-sessions/:id/movements", s.RecordCashMovement)
	api.POST("/cash-sessions/:id/close", s.CloseCashSession)
	api.POST("/cash-sessions/:id/audit", s.AuditCashSession)

	// -------- Offline sync --------
	api.POST("/sync/orders", s.SyncRateLimit(), s.SubmitSyncOrder)
	api.POST("/sync/orders/batch", s.SyncRateLimit(), s.SubmitSyncBatch)

	// -------- Sweeps --------
	api.POST("/jobs/:job", s.RunJob)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/payments/:provider", s.HandlePaymentWebhook)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
