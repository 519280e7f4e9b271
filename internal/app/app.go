package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	_ "printflow/docs"
	"printflow/internal/config"
	"printflow/internal/handlers"
	"printflow/internal/logger"
	"printflow/internal/models"
	"printflow/internal/realtime"
	"printflow/internal/repositories"
	"printflow/internal/routes"
	"printflow/internal/services"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired reminder engine.
type App struct {
	cfg *config.Config
	log zerolog.Logger
	db  *repositories.DB

	projects   repositories.ProjectRepository
	hub        *realtime.FeedHub
	reminders  services.ReminderService
	feed       services.FeedService
	users      repositories.UserRepository
	dispatcher *services.Dispatcher
	watcher    *services.StageWatcher
}

// New opens the store, applies the schema and builds every component.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New("printflow", cfg.Log.Level)

	// === DB ===
	db, err := repositories.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := repositories.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// === Repos ===
	reminderRepo := repositories.NewReminderRepository(db)
	projectRepo := repositories.NewProjectRepository(db)
	userRepo := repositories.NewUserRepository(db)
	deliveryRepo := repositories.NewDeliveryRepository(db)
	feedRepo := repositories.NewFeedRepository(db)

	// === Notifiers ===
	hub := realtime.NewFeedHub(log)
	tg, err := services.NewTelegramService(cfg.Telegram.BotToken)
	if err != nil {
		// in-app delivery must not depend on Telegram being reachable
		log.Warn().Err(err).Msg("telegram mirror disabled")
		tg = &services.TelegramService{}
	}
	notifiers := map[models.Channel]services.Notifier{
		models.ChannelInApp: services.NewInAppNotifier(feedRepo, userRepo, hub, tg, log),
	}
	if cfg.EmailEnabled() {
		mailer := services.NewEmailService(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUser,
			cfg.Email.SMTPPassword,
			cfg.Email.FromEmail,
		)
		notifiers[models.ChannelEmail] = services.NewEmailNotifier(userRepo, mailer, log)
	} else {
		log.Warn().Msg("smtp not configured, email channel disabled")
	}

	// === Services ===
	dispatcher := services.NewDispatcher(reminderRepo, projectRepo, deliveryRepo, notifiers,
		services.DispatcherConfig{Interval: cfg.Scheduler.Interval, BatchSize: cfg.Scheduler.BatchSize},
		time.Now, log)
	watcher := services.NewStageWatcher(reminderRepo, projectRepo, dispatcher, cfg.Watcher.QueueSize, time.Now, log)

	return &App{
		cfg:        cfg,
		log:        log,
		db:         db,
		projects:   projectRepo,
		hub:        hub,
		reminders:  services.NewReminderService(reminderRepo, projectRepo, dispatcher, time.Now, log),
		feed:       services.NewFeedService(feedRepo, time.Now),
		users:      userRepo,
		dispatcher: dispatcher,
		watcher:    watcher,
	}, nil
}

func (a *App) Close() error {
	return a.db.Close()
}

// Router builds the gin engine with the full route table.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(a.log))
	router.Use(corsMiddleware())

	return routes.SetupRoutes(
		router,
		[]byte(a.cfg.Auth.JWTSecret),
		handlers.NewReminderHandler(a.reminders, a.watcher),
		handlers.NewFeedHandler(a.feed, a.hub),
		handlers.NewContactHandler(a.users),
	)
}

// Serve runs the HTTP server, the dispatcher and the stage watcher until ctx
// is canceled or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.watcher.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap stage watcher: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(a.dispatcher.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(a.watcher.Run(ctx)) })
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info().Msg("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// DispatchOnce runs a single scheduler pass.
func (a *App) DispatchOnce(ctx context.Context) (services.PassResult, error) {
	return a.dispatcher.RunOnce(ctx)
}

// SetProjectStatus records a project's status in the local projects table and
// arms the reminders waiting for it. Deployments with an external order
// backend post to /projects/:id/status-events instead.
func (a *App) SetProjectStatus(ctx context.Context, projectID int64, status string) error {
	now := time.Now().UTC()
	if err := a.projects.SetStatus(ctx, projectID, status, now); err != nil {
		return err
	}
	a.watcher.OnProjectStatusChanged(ctx, models.StatusChange{ProjectID: projectID, NewStatus: status, OccurredAt: now})
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
