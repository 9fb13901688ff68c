package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/iahome/internal/accesstoken"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
	"github.com/smallbiznis/iahome/internal/authorization"
	"github.com/smallbiznis/iahome/internal/catalog"
	catalogdomain "github.com/smallbiznis/iahome/internal/catalog/domain"
	"github.com/smallbiznis/iahome/internal/config"
	"github.com/smallbiznis/iahome/internal/ledger"
	ledgerdomain "github.com/smallbiznis/iahome/internal/ledger/domain"
	"github.com/smallbiznis/iahome/internal/marketmetrics"
	"github.com/smallbiznis/iahome/internal/observability"
	obsmiddleware "github.com/smallbiznis/iahome/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/iahome/internal/observability/metrics"
	obstracing "github.com/smallbiznis/iahome/internal/observability/tracing"
	"github.com/smallbiznis/iahome/internal/payment"
	paymentdomain "github.com/smallbiznis/iahome/internal/payment/domain"
	"github.com/smallbiznis/iahome/internal/profile"
	profiledomain "github.com/smallbiznis/iahome/internal/profile/domain"
	"github.com/smallbiznis/iahome/internal/providers/pdf"
	"github.com/smallbiznis/iahome/internal/ratelimit"
	"github.com/smallbiznis/iahome/internal/seed"
	"github.com/smallbiznis/iahome/internal/usage"
	usagedomain "github.com/smallbiznis/iahome/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	profile.Module,
	catalog.Module,
	ledger.Module,
	usage.Module,
	pdf.Module,
	accesstoken.Module,
	payment.Module,
	ratelimit.Module,
	seed.Module,
	marketmetrics.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
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
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
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
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	authzSvc       authorization.Service
	ledgerSvc      ledgerdomain.Service
	usageSvc       usagedomain.Service
	catalogSvc     catalogdomain.Service
	accessTokenSvc accesstokendomain.Service
	paymentSvc     paymentdomain.Service
	seeder         *seed.Entitlements
	profileSvc     profiledomain.Service
	consumeLimiter *ratelimit.ConsumeLimiter
	obsMetrics     *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	AuthzSvc       authorization.Service
	LedgerSvc      ledgerdomain.Service
	UsageSvc       usagedomain.Service
	CatalogSvc     catalogdomain.Service
	AccessTokenSvc accesstokendomain.Service
	PaymentSvc     paymentdomain.Service
	Seeder         *seed.Entitlements
	ProfileSvc     profiledomain.Service     `optional:"true"`
	ConsumeLimiter *ratelimit.ConsumeLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("http.server"),
		authzSvc:       p.AuthzSvc,
		ledgerSvc:      p.LedgerSvc,
		usageSvc:       p.UsageSvc,
		catalogSvc:     p.CatalogSvc,
		accessTokenSvc: p.AccessTokenSvc,
		paymentSvc:     p.PaymentSvc,
		seeder:         p.Seeder,
		profileSvc:     p.ProfileSvc,
		consumeLimiter: p.ConsumeLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	if svc.cfg.Supabase.JWTSecret == "" {
		svc.log.Warn("SUPABASE_JWT_SECRET is empty; bearer tokens are not verified")
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	api.POST("/webhooks/stripe", s.HandleStripeWebhook)

	// -------- Tokens --------
	tokens := api.Group("/tokens", s.OptionalAuth())
	{
		tokens.POST("/consume", s.ConsumeRateLimit(), s.ConsumeTokens)
		tokens.GET("/balance", s.GetBalance)
		tokens.GET("/history", s.ListUsageHistory)
		tokens.GET("/transactions", s.ListCreditTransactions)
		tokens.GET("/statement", s.DownloadStatement)
	}

	// -------- Modules --------
	api.GET("/modules", s.ListModules)
	api.GET("/modules/:id", s.GetModule)

	// -------- Access Tokens --------
	api.POST("/access-tokens/validate", s.ValidateAccessToken)
	api.POST("/access-tokens/redeem", s.RedeemAccessToken)
	api.GET("/access-tokens", s.OptionalAuth(), s.ListAccessTokens)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin")
	admin.Use(s.AuthRequired())

	admin.POST("/tokens/add", s.authorizeAction(authorization.ObjectTokens, authorization.ActionTokensCredit), s.AdminAddTokens)
	admin.POST("/tokens/set", s.authorizeAction(authorization.ObjectTokens, authorization.ActionTokensReset), s.AdminSetTokens)

	admin.POST("/entitlements/seed", s.authorizeAction(authorization.ObjectEntitlements, authorization.ActionEntitlementsSeed), s.SeedEntitlements)

	admin.POST("/access-tokens", s.authorizeAction(authorization.ObjectAccessToken, authorization.ActionAccessTokenIssue), s.AdminIssueAccessToken)
	admin.DELETE("/access-tokens", s.authorizeAction(authorization.ObjectAccessToken, authorization.ActionAccessTokenClear), s.AdminClearAccessTokens)
	admin.DELETE("/access-tokens/:id", s.authorizeAction(authorization.ObjectAccessToken, authorization.ActionAccessTokenRevoke), s.AdminRevokeAccessToken)

	admin.POST("/modules", s.authorizeAction(authorization.ObjectModule, authorization.ActionModuleCreate), s.CreateModule)
}
