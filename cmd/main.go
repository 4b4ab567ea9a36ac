package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"traininghub-backend/config"
	httpDelivery "traininghub-backend/internal/delivery/http"
	"traininghub-backend/internal/domain"
	"traininghub-backend/internal/repository"
	"traininghub-backend/internal/usecase"
	"traininghub-backend/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to databases
	db, err := config.ConnectDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close(context.Background())

	// Auto migrate
	if err := config.AutoMigrate(db.PG); err != nil {
		return err
	}
	if err := repository.EnsureCatalogIndexes(ctx, db.Mongo); err != nil {
		return err
	}

	// Initialize repositories
	store := repository.NewStore(db.PG)
	catalog := repository.NewCourseCatalog(db.Mongo)
	artifacts, err := repository.NewCertificateArtifactRepository(db.Mongo)
	if err != nil {
		return err
	}
	publisher := repository.NewLogPublisher(log)
	if db.Redis != nil {
		publisher = repository.NewRedisPublisher(db.Redis, cfg.RedisChannel)
	}

	// Initialize usecases
	opts := usecase.Options{
		Logger:       log,
		MaxTxRetries: cfg.TxMaxRetries,
		RetryBackoff: cfg.TxRetryBackoff,
	}
	certUsecase := usecase.NewCertificateUsecase(store, catalog, artifacts, publisher, opts)
	progressUsecase := usecase.NewProgressUsecase(store, catalog, certUsecase, publisher, opts)
	reservationUsecase := usecase.NewReservationUsecase(store, publisher, opts)

	if cfg.Debug {
		seedDemo(ctx, log, catalog, cfg.JWTSecret)
	}

	// Initialize handlers and router
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpDelivery.NewHandler(progressUsecase, reservationUsecase, certUsecase, log)
	router := httpDelivery.InitRouter(handler, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server running", "port", cfg.Port, "api", "/api/v1")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Debug {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

// seedDemo loads a small demo course into the catalog and logs bearer
// tokens for a demo student and instructor.
func seedDemo(ctx context.Context, log *slog.Logger, catalog domain.CourseCatalog, secret string) {
	const demoCourse uint = 1

	if _, err := catalog.GetOutline(ctx, demoCourse); err == nil {
		log.Debug("demo course already present", "course_id", demoCourse)
	} else if errors.Is(err, domain.ErrCourseNotFound) {
		now := time.Now().UTC()
		stages := []domain.Stage{
			{CourseID: demoCourse, Kind: domain.StagePretest, Title: "Placement check", AnswerKey: []string{"a", "b"}},
			{CourseID: demoCourse, Kind: domain.StageVideo, Title: "Safety briefing", Order: 1},
			{CourseID: demoCourse, Kind: domain.StageVideo, Title: "Equipment handling", Order: 2},
			{CourseID: demoCourse, Kind: domain.StageQuiz, Title: "Final quiz", Order: 1, PassingScore: 70, AllowRetake: true, AnswerKey: []string{"a", "b", "c"}},
		}
		for i := range stages {
			stages[i].CreatedAt = now
			if err := catalog.AddStage(ctx, &stages[i]); err != nil {
				log.Warn("failed to seed demo stage", "title", stages[i].Title, "error", err)
				return
			}
		}
		log.Info("seeded demo course", "course_id", demoCourse)
	} else {
		log.Warn("failed to read demo course", "error", err)
	}

	for _, u := range []struct {
		id   uint
		role domain.Role
	}{
		{100, domain.RoleStudent},
		{200, domain.RoleInstructor},
		{1, domain.RoleAdmin},
	} {
		token, err := utils.GenerateJWT(u.id, string(u.role), secret)
		if err != nil {
			log.Warn("failed to mint demo token", "role", u.role, "error", err)
			continue
		}
		log.Debug("demo token", "user_id", u.id, "role", u.role, "token", token)
	}
}
