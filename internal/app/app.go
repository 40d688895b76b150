package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/catalog"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/db"
	httpserver "github.com/shinyes/sift/internal/http"
	"github.com/shinyes/sift/internal/markdown"
	"github.com/shinyes/sift/internal/service"
	"github.com/shinyes/sift/internal/store"
)

type Container struct {
	Config        config.Config
	Logger        *zap.Logger
	Store         *store.SQLStore
	UserService   *service.UserService
	FilterService *service.FilterService
	DraftService  *service.DraftService
	TaskService   *service.TaskService
	BackupTargets *service.BackupTargetService
	BackupService *service.BackupService
	Router        *fiber.App
}

// Build opens and migrates the database and wires every service. The
// returned cleanup closes the database.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Container, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, dialect, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return conn.Close()
	}

	if err := db.Migrate(conn, dialect); err != nil {
		_ = cleanup()
		return nil, nil, err
	}

	sqlStore := store.New(conn, dialect)
	userService := service.NewUserService(sqlStore, logger.Named("users"))
	if err := userService.EnsureBootstrap(ctx, cfg.BootstrapUser, cfg.BootstrapPassword, cfg.BootstrapToken); err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("bootstrap setup: %w", err)
	}

	targets := service.NewBackupTargetService(sqlStore, cfg)
	target, err := targets.Resolve(ctx)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("resolve backup target: %w", err)
	}
	cfg.Storage = target.Backend
	cfg.S3 = target.S3

	provider, err := catalog.NewProvider(sqlStore)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("load criteria catalog: %w", err)
	}
	filterService := service.NewFilterService(sqlStore, provider, logger.Named("filters"))
	draftService := service.NewDraftService(filterService, cfg.DraftTTL, logger.Named("drafts"))
	taskService := service.NewTaskService(sqlStore, filterService, markdown.NewTagExtractor())
	backupService := service.NewBackupService(filterService, targets, cfg.BackupDir, logger.Named("backups"))

	router := httpserver.NewRouter(cfg, httpserver.Services{
		Users:   userService,
		Filters: filterService,
		Drafts:  draftService,
		Tasks:   taskService,
		Backups: backupService,
	}, logger.Named("http"))

	return &Container{
		Config:        cfg,
		Logger:        logger,
		Store:         sqlStore,
		UserService:   userService,
		FilterService: filterService,
		DraftService:  draftService,
		TaskService:   taskService,
		BackupTargets: targets,
		BackupService: backupService,
		Router:        router,
	}, cleanup, nil
}

// StartJanitor expires idle drafts until ctx is done.
func (c *Container) StartJanitor(ctx context.Context) {
	interval := c.Config.DraftTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go c.DraftService.RunJanitor(ctx, interval)
}
