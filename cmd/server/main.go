package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/api"
	"github.com/Kxd395/DoseTap-sub000/internal/auth"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/config"
	"github.com/Kxd395/DoseTap-sub000/internal/notify"
	"github.com/Kxd395/DoseTap-sub000/internal/phase"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
	"github.com/Kxd395/DoseTap-sub000/internal/storage"
	"github.com/Kxd395/DoseTap-sub000/internal/undo"
)

type app struct {
	logger      internal.Logger
	cfg         *config.Config
	clk         clock.Clock
	store       *session.Store
	ledger      *undo.Ledger
	sessionRepo storage.SessionRepository
	medRepo     storage.MedicationRepository
	sched       *notify.MemoryScheduler
}

func (a *app) Logger() internal.Logger                      { return a.logger }
func (a *app) Config() *config.Config                       { return a.cfg }
func (a *app) Clock() clock.Clock                           { return a.clk }
func (a *app) Store() *session.Store                        { return a.store }
func (a *app) Ledger() *undo.Ledger                         { return a.ledger }
func (a *app) SessionRepo() storage.SessionRepository       { return a.sessionRepo }
func (a *app) MedicationRepo() storage.MedicationRepository { return a.medRepo }
func (a *app) Pending() *notify.MemoryScheduler             { return a.sched }

var _ api.App = (*app)(nil)

func phaseOptions(cfg *config.Config) phase.Options {
	return phase.Options{
		WindowOpenOffset:  time.Duration(cfg.WindowOpenMinutes) * time.Minute,
		WindowCloseOffset: time.Duration(cfg.WindowCloseMinutes) * time.Minute,
		NearCloseLead:     time.Duration(cfg.NearCloseLeadMinutes) * time.Minute,
		SnoozeStep:        time.Duration(cfg.SnoozeMinutes) * time.Minute,
		MaxSnoozes:        cfg.MaxSnoozes,
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	return notify.Config{
		WindowOpenOffset:  time.Duration(cfg.WindowOpenMinutes) * time.Minute,
		WindowCloseOffset: time.Duration(cfg.WindowCloseMinutes) * time.Minute,
		NearCloseLead:     time.Duration(cfg.NearCloseLeadMinutes) * time.Minute,
		SnoozeStep:        time.Duration(cfg.SnoozeMinutes) * time.Minute,
		PreAlarmLead:      time.Duration(cfg.PreAlarmLeadMinutes) * time.Minute,
		FollowUpCount:     cfg.FollowUpCount,
		FollowUpSpacing:   time.Duration(cfg.FollowUpSpacingMins) * time.Minute,
		AlertWindowOpen:   cfg.AlertWindowOpen,
		Alert15Min:        cfg.Alert15Min,
		Alert5Min:         cfg.Alert5Min,
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := internal.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}

	var sessionRepo storage.SessionRepository
	var medRepo storage.MedicationRepository
	switch cfg.DBType {
	case "postgres":
		sessionRepo, medRepo, err = storage.NewPostgresRepositories(cfg.DBDSN, logger)
	default:
		if dir := filepath.Dir(cfg.FileSessions); dir != "" {
			_ = os.MkdirAll(dir, 0755)
		}
		sessionRepo, medRepo, err = storage.NewFileRepositories(cfg.FileSessions, cfg.FileMedications, logger)
	}
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}

	clk := clock.SystemClock{}
	monitor := clock.NewMonitor()
	sched := notify.NewMemoryScheduler()
	coord := notify.NewCoordinator(sched, clk, notifyConfig(cfg), logger)

	store, err := session.NewStore(sessionRepo, clk, coord, monitor, logger, session.Options{
		RolloverHour: cfg.RolloverHour,
		Phase:        phaseOptions(cfg),
		Grace:        time.Duration(cfg.GraceMinutes) * time.Minute,
	})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}
	defer store.Close()

	ledger := undo.NewLedger(store, clk, time.Duration(cfg.UndoWindowSeconds)*time.Second)

	var provider auth.Provider
	if cfg.Env == "development" {
		provider = auth.NewLocalAuthProvider(cfg.AuthToken, logger)
	} else {
		provider = auth.NewRemoteAuthProvider(cfg.AuthServiceURL, logger)
	}

	a := &app{
		logger:      logger,
		cfg:         cfg,
		clk:         clk,
		store:       store,
		ledger:      ledger,
		sessionRepo: sessionRepo,
		medRepo:     medRepo,
		sched:       sched,
	}

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(api.RequestIDMiddleware())
	r.Use(api.RequestLogMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	protected := r.Group("/")
	protected.Use(auth.AuthMiddleware(provider, cfg))
	{
		protected.GET("/tonight", api.GetTonight(a))
		protected.POST("/tonight/dose1", api.PostDose1(a))
		protected.POST("/tonight/dose2", api.PostDose2(a))
		protected.POST("/tonight/snooze", api.PostSnooze(a))
		protected.POST("/tonight/skip", api.PostSkip(a))
		protected.POST("/tonight/wake", api.PostWake(a))
		protected.POST("/tonight/checkin", api.PostCheckIn(a))
		protected.POST("/tonight/presleep", api.PostPreSleep(a))
		protected.POST("/tonight/foreground", api.PostForeground(a))
		protected.DELETE("/tonight", api.DeleteTonight(a))
		protected.POST("/undo", api.PostUndo(a))
		protected.GET("/sessions/:key", api.GetSessionByKey(a))
		protected.DELETE("/sessions/:key", api.DeleteSessionByKey(a))
		protected.GET("/history", api.GetHistory(a))
		protected.POST("/medications", api.PostMedication(a))
		protected.GET("/medications", api.GetMedications(a))
		protected.GET("/notifications/pending", api.GetPendingNotifications(a))
		protected.POST("/signals/timechange", api.PostTimeChange(a))
	}

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	go func() {
		logger.Infof("server running on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("forced shutdown: %v", err)
	}
	if closer, ok := sessionRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Errorf("storage close: %v", err)
		}
	}
}
