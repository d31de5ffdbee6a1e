package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/balancebook/internal/audit/domain"
	authdomain "github.com/smallbiznis/balancebook/internal/auth/domain"
	"github.com/smallbiznis/balancebook/internal/authorization"
	"github.com/smallbiznis/balancebook/internal/changefeed"
	"github.com/smallbiznis/balancebook/internal/config"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	"github.com/smallbiznis/balancebook/internal/idempotency"
	ledgerservice "github.com/smallbiznis/balancebook/internal/ledger/service"
	"github.com/smallbiznis/balancebook/internal/observability"
	obslogger "github.com/smallbiznis/balancebook/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/balancebook/internal/observability/metrics"
	obstracing "github.com/smallbiznis/balancebook/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	productdomain "github.com/smallbiznis/balancebook/internal/product/domain"
	"github.com/smallbiznis/balancebook/internal/query"
	"github.com/smallbiznis/balancebook/internal/ratelimit"
	"github.com/smallbiznis/balancebook/internal/receipt"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", srv.Addr))
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
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	settings    *config.LedgerSettingsHolder
	authSvc     authdomain.Service
	authzSvc    authorization.Service
	customerSvc customerdomain.Service
	productSvc  productdomain.Service
	orderSvc    orderdomain.Service
	paymentSvc  paymentdomain.Service
	ledgerSvc   ledgerservice.Service
	querySvc    *query.Service
	receiptSvc  *receipt.Service
	hub         *changefeed.Hub
	auditSvc    auditdomain.Service
	limiter     ratelimit.Limiter
	idempotency *idempotency.Store
	obsMetrics  *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Settings    *config.LedgerSettingsHolder
	AuthSvc     authdomain.Service
	AuthzSvc    authorization.Service
	CustomerSvc customerdomain.Service
	ProductSvc  productdomain.Service
	OrderSvc    orderdomain.Service
	PaymentSvc  paymentdomain.Service
	LedgerSvc   ledgerservice.Service
	QuerySvc    *query.Service
	ReceiptSvc  *receipt.Service
	Hub         *changefeed.Hub
	AuditSvc    auditdomain.Service `optional:"true"`
	Limiter     ratelimit.Limiter   `optional:"true"`
	Idempotency *idempotency.Store  `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		settings:    p.Settings,
		authSvc:     p.AuthSvc,
		authzSvc:    p.AuthzSvc,
		customerSvc: p.CustomerSvc,
		productSvc:  p.ProductSvc,
		orderSvc:    p.OrderSvc,
		paymentSvc:  p.PaymentSvc,
		ledgerSvc:   p.LedgerSvc,
		querySvc:    p.QuerySvc,
		receiptSvc:  p.ReceiptSvc,
		hub:         p.Hub,
		auditSvc:    p.AuditSvc,
		limiter:     p.Limiter,
		idempotency: p.Idempotency,
		obsMetrics:  p.ObsMetrics,
	}
	s.registerAPIRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.AuthRequired())
	api.Use(s.RateLimit())
	if s.idempotency != nil {
		api.Use(idempotency.Middleware(s.idempotency, s.log, AbortWithError))
	}

	// -------- Customers --------
	api.GET("/customers", s.authorize(authorization.ObjectCustomer, authorization.ActionView), s.ListCustomers)
	api.POST("/customers", s.authorize(authorization.ObjectCustomer, authorization.ActionCreate), s.CreateCustomer)
	api.GET("/customers/lookup", s.authorize(authorization.ObjectCustomer, authorization.ActionView), s.LookupCustomer)
	api.GET("/customers/:id", s.authorize(authorization.ObjectCustomer, authorization.ActionView), s.GetCustomerByID)
	api.PATCH("/customers/:id", s.authorize(authorization.ObjectCustomer, authorization.ActionUpdate), s.UpdateCustomer)
	api.GET("/customers/:id/orders", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.ListCustomerOrders)
	api.GET("/customers/:id/payments", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.ListCustomerPayments)
	api.POST("/customers/:id/rebuild", s.authorize(authorization.ObjectLedger, authorization.ActionRebuild), s.RebuildCustomer)

	// -------- Products --------
	api.GET("/products", s.authorize(authorization.ObjectProduct, authorization.ActionView), s.ListProducts)
	api.POST("/products", s.authorize(authorization.ObjectProduct, authorization.ActionCreate), s.CreateProduct)
	api.GET("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionView), s.GetProductByID)
	api.PATCH("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionUpdate), s.UpdateProduct)
	api.DELETE("/products/:id", s.authorize(authorization.ObjectProduct, authorization.ActionDelete), s.DeleteProduct)

	// -------- Orders --------
	api.GET("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.ListOrders)
	api.POST("/orders", s.authorize(authorization.ObjectOrder, authorization.ActionCreate), s.CreateOrder)
	api.GET("/orders/unseen", s.authorize(authorization.ObjectOrder, authorization.ActionSeen), s.UnseenOrders)
	api.POST("/orders/seen", s.authorize(authorization.ObjectOrder, authorization.ActionSeen), s.MarkOrdersSeen)
	api.GET("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.GetOrderByID)
	api.PATCH("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionUpdate), s.ModifyOrder)
	api.DELETE("/orders/:id", s.authorize(authorization.ObjectOrder, authorization.ActionDelete), s.DeleteOrder)
	api.GET("/orders/:id/receipt.pdf", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.OrderReceipt)

	// -------- Payments --------
	api.GET("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.ListPayments)
	api.POST("/payments", s.authorize(authorization.ObjectPayment, authorization.ActionCreate), s.CreatePayment)
	api.GET("/payments/recent", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.RecentPayments)
	api.GET("/payments/today", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.TodaysPayments)
	api.GET("/payments/:id", s.authorize(authorization.ObjectPayment, authorization.ActionView), s.GetPaymentByID)

	// -------- Dashboard --------
	api.GET("/dashboard", s.authorize(authorization.ObjectDashboard, authorization.ActionView), s.GetDashboard)
	api.GET("/dashboard/pending", s.authorize(authorization.ObjectDashboard, authorization.ActionView), s.CustomersWithPending)

	// -------- Change feed --------
	api.GET("/stream/:collection", s.authorize(authorization.ObjectStream, authorization.ActionView), s.StreamCollection)

	// -------- Settings --------
	api.GET("/settings", s.authorize(authorization.ObjectSettings, authorization.ActionView), s.GetSettings)
	api.GET("/me", s.Me)

	// -------- Ledger maintenance --------
	admin := api.Group("/admin")
	admin.POST("/rebuild", s.authorize(authorization.ObjectLedger, authorization.ActionRebuild), s.RebuildAll)
	admin.GET("/verify", s.authorize(authorization.ObjectLedger, authorization.ActionVerify), s.VerifyAll)
	if s.auditSvc != nil {
		admin.GET("/audit-logs", s.authorize(authorization.ObjectAudit, authorization.ActionView), s.ListAuditLogs)
	}
}
