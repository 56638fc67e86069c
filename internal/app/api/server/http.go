package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stepun/botoracle/docs"
	"github.com/stepun/botoracle/internal/app/api/handlers"
	mw "github.com/stepun/botoracle/internal/app/api/middleware"
	"github.com/stepun/botoracle/internal/app/service/crm"
	notificationlog "github.com/stepun/botoracle/internal/app/service/notification_log"
	"github.com/stepun/botoracle/internal/app/service/payment"
	"github.com/stepun/botoracle/internal/app/service/quota"
	"github.com/stepun/botoracle/internal/app/service/statistics"
	subsvc "github.com/stepun/botoracle/internal/app/service/subscription"
	"github.com/stepun/botoracle/internal/app/service/user"
	"github.com/stepun/botoracle/internal/platform/robokassa"
	cfgpkg "github.com/stepun/botoracle/pkg/config"
	metrics "github.com/stepun/botoracle/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Log        *zap.SugaredLogger
	Cfg        *cfgpkg.Config
	DB         *gorm.DB
	Users      *user.Service
	Quotas     *quota.Service
	Subs       *subsvc.Service
	Payments   *payment.Service
	Signer     *robokassa.Signer
	NotifyLog  *notificationlog.Service
	Planner    *crm.Planner
	Dispatcher *crm.Dispatcher
	Stats      *statistics.Service
}

func registerMetrics(lc fx.Lifecycle, r *gin.Engine, log *zap.SugaredLogger, cfg *cfgpkg.Config) {
	p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
		Subsystem:     "botoracle",
		ListenAddress: cfg.MetricsAddr,
		Logger:        log,
	})
	p.Use(r)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start()
			return nil
		},
		OnStop: p.Shutdown,
	})
}

func registerRoutes(r *gin.Engine, d routeDeps) {
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware(d.Log))
	handlers.RegisterHealthRoutes(pub, d.DB)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Robokassa posts here directly, authenticity comes from the signature.
	handlers.RegisterRobokassaRoutes(pub.Group("/robokassa"), d.Payments, d.Signer, d.NotifyLog, d.Log)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(d.Log), mw.AccessLogMiddleware(d.Log))
	handlers.RegisterUserRoutes(apiV1, d.Cfg, d.Users, d.Quotas, d.Subs, d.Payments, d.Planner, d.Log)

	admin := apiV1.Group("/admin")
	admin.Use(mw.AdminAuthMiddleware(d.Cfg, d.Log))
	handlers.RegisterAdminRoutes(admin, d.Planner, d.Dispatcher, d.Stats, d.DB)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerMetrics),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
