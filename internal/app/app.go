package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clausewise/server/internal/module/billing"
	"github.com/clausewise/server/internal/module/checkout"
	"github.com/clausewise/server/internal/module/credits"
	"github.com/clausewise/server/internal/module/document"
	"github.com/clausewise/server/internal/module/payment"
	"github.com/clausewise/server/internal/module/plan"
	"github.com/clausewise/server/internal/module/user"
	"github.com/clausewise/server/internal/shared/cache"
	"github.com/clausewise/server/internal/shared/config"
	"github.com/clausewise/server/internal/shared/database"
	"github.com/clausewise/server/internal/shared/logger"
	"github.com/clausewise/server/internal/utils/metrics"
	"github.com/clausewise/server/internal/utils/middleware"
	"github.com/clausewise/server/internal/utils/retry"
)

// App wires every module together and owns the process-level resources.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	a := &App{
		cfg:    cfg,
		logger: log,
		db:     db,
		redis:  redisClient,
	}
	a.buildRouter()
	return a, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&user.User{},
		&user.VerificationToken{},
		&plan.Plan{},
		&plan.Feature{},
		&plan.PlanFeature{},
		&billing.Profile{},
		&billing.Subscription{},
		&billing.CardFingerprint{},
		&payment.WebhookEvent{},
		&credits.UsageRecord{},
		&document.Document{},
	)
}

// userDirectory adapts the user service to the billing module's contact
// lookup.
type userDirectory struct {
	users *user.Service
}

func (d *userDirectory) GetContactInfo(ctx context.Context, userID uuid.UUID) (string, string, error) {
	u, err := d.users.WhoAmI(ctx, userID)
	if err != nil {
		return "", "", err
	}
	return u.Email, u.Name, nil
}

func (a *App) buildRouter() {
	m := metrics.New("clausewise")

	// Gateways and stores.
	gateway := payment.NewStripeGateway(&a.cfg.Stripe, m, a.logger)
	eventStore := payment.NewEventStore(a.db)

	// User module.
	jwtManager := user.NewJWTManager(&a.cfg.Auth)
	var mailer user.Mailer
	if a.cfg.Email.SMTPHost != "" {
		mailer = user.NewSMTPMailer(&a.cfg.Email, a.logger)
	} else {
		mailer = user.NewLogMailer(a.logger)
	}
	userSvc := user.NewService(user.NewRepository(a.db), jwtManager, mailer, a.logger)
	userHandler := user.NewHandler(userSvc, a.logger)

	// Plan module.
	planRepo := plan.NewRepository(a.db)
	planSvc := plan.NewService(planRepo, a.logger)
	planHandler := plan.NewHandler(planSvc, a.logger)

	// Billing module.
	billingSvc := billing.NewService(
		billing.NewRepository(a.db),
		gateway,
		planRepo,
		&userDirectory{users: userSvc},
		a.logger,
	)
	billingHandler := billing.NewHandler(billingSvc, gateway.PublishableKey(), a.logger)

	// Checkout workflow.
	workflow := checkout.NewWorkflow(
		billingSvc,
		planRepo,
		gateway,
		retry.DefaultConfig(),
		m,
		a.cfg.Support.Email,
		a.logger,
	)
	checkoutHandler := checkout.NewHandler(workflow, a.logger)

	// Credit tracker.
	tracker := credits.NewTracker(
		credits.NewRedisCounterStore(a.redis),
		credits.NewRepository(a.db),
		billingSvc,
		planSvc,
		a.logger,
	)
	creditsHandler := credits.NewHandler(tracker, a.logger)

	// Document workspace. Object storage is optional in development; the
	// document routes are only mounted when it is configured.
	var documentHandler *document.Handler
	store, err := document.NewS3ObjectStore(&a.cfg.Storage)
	if err != nil {
		a.logger.Warn("object storage not configured, document routes disabled", zap.Error(err))
	} else {
		documentSvc := document.NewService(
			document.NewRepository(a.db),
			store,
			document.NewOpenAISummarizer(&a.cfg.Summary),
			tracker,
			billingSvc,
			planSvc,
			a.logger,
		)
		documentHandler = document.NewHandler(documentSvc, a.logger)
	}

	// Webhooks.
	webhookHandler := payment.NewWebhookHandler(gateway, billingSvc, eventStore, m, a.logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.Metrics(m))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Idempotency(a.redis, middleware.DefaultIdempotencyConfig()))

	r.GET("/healthz", a.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhooks := r.Group("/webhooks")
	webhookHandler.RegisterRoutes(webhooks)

	v1 := r.Group("/api/v1")
	userHandler.RegisterRoutes(v1, jwtManager)
	planHandler.RegisterRoutes(v1, jwtManager)
	billingHandler.RegisterRoutes(v1, jwtManager)
	checkoutHandler.RegisterRoutes(v1, jwtManager)
	creditsHandler.RegisterRoutes(v1, jwtManager)
	if documentHandler != nil {
		documentHandler.RegisterRoutes(v1, jwtManager)
	}

	a.router = r
}

func (a *App) healthz(c *gin.Context) {
	ctx := c.Request.Context()

	sqlDB, err := a.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
		return
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Router returns the HTTP handler.
func (a *App) Router() http.Handler {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop releases process-level resources.
func (a *App) Stop() {
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("failed to close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}
