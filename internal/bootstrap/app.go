package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"ledger-backend/internal/documents"
	"ledger-backend/internal/ledger"
	"ledger-backend/internal/queue"
	"ledger-backend/internal/services/health"
	"ledger-backend/internal/shared/config"
	"ledger-backend/internal/shared/server"
	"ledger-backend/internal/shared/storage/db"
	"ledger-backend/internal/shared/storage/object"
	localstore "ledger-backend/internal/shared/storage/object/local"
	s3store "ledger-backend/internal/shared/storage/object/s3"
	"ledger-backend/internal/shared/telemetry"
)

const healthProbeName = "health-probe"

// App holds shared dependencies.
type App struct {
	Config           config.Config
	Router           *gin.Engine
	DB               *sql.DB
	Store            object.ObjectStore
	Ledger           ledger.Repo
	Queue            queue.Client
	DocumentsService *documents.Service
	DocumentsHandler *documents.Handler
	Health           *health.Service

	closers []io.Closer
}

// Build prepares every dependency and the router.
func Build(cfg config.Config) (*App, error) {
	app, err := BuildCore(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	app.DocumentsHandler = documents.NewHandler(app.DocumentsService, cfg.MaxUploadBytes)
	app.Health = buildHealth(app)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		DocumentHandler: app.DocumentsHandler,
		Health:          app.Health,
	})
	return app, nil
}

// BuildCore prepares the store, the ledger and the service without HTTP.
func BuildCore(ctx context.Context, cfg config.Config) (*App, error) {
	return buildCore(ctx, cfg, false)
}

// BuildReadOnly prepares the service for inspection. It never initializes,
// migrates or repairs the ledger, creates no directories and publishes no
// events; mutating operations on the result fail.
func BuildReadOnly(ctx context.Context, cfg config.Config) (*App, error) {
	return buildCore(ctx, cfg, true)
}

func buildCore(ctx context.Context, cfg config.Config, readOnly bool) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if strings.TrimSpace(cfg.LedgerBackend) == "" {
		cfg.LedgerBackend = "file"
	}

	app := &App{Config: cfg}

	store, err := buildStore(ctx, cfg, readOnly)
	if err != nil {
		return nil, err
	}
	app.Store = store

	if err := buildLedger(ctx, app, readOnly); err != nil {
		_ = app.Close()
		return nil, err
	}

	var queueClient queue.Client
	if !readOnly {
		if err := app.Ledger.Init(ctx); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		queueClient, err = buildQueue(ctx, cfg)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	app.Queue = queueClient

	app.DocumentsService = &documents.Service{
		Store:  app.Store,
		Ledger: app.Ledger,
		Events: queueClient,
	}

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":            cfg.Env,
		"object_store":   cfg.ObjectStoreType,
		"ledger_backend": cfg.LedgerBackend,
		"events":         queueClient != nil,
		"read_only":      readOnly,
	})
	return app, nil
}

// Close releases databases opened by Build.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildStore(ctx context.Context, cfg config.Config, readOnly bool) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, s3store.Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			KMSKeyID:        cfg.SSEKMSKeyID,
			BaseURL:         cfg.PublicBaseURL,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
		})
	default:
		if readOnly {
			return localstore.OpenDir(cfg.UploadsDir, cfg.PublicBaseURL)
		}
		return localstore.New(cfg.UploadsDir, cfg.PublicBaseURL)
	}
}

func buildLedger(ctx context.Context, app *App, readOnly bool) error {
	cfg := app.Config
	switch cfg.LedgerBackend {
	case "memory":
		app.Ledger = ledger.NewMemoryRepo()
	case "bolt":
		open := ledger.OpenBoltRepo
		if readOnly {
			open = ledger.OpenBoltRepoReadOnly
		}
		repo, err := open(cfg.LedgerBoltPath)
		if err != nil {
			return err
		}
		app.closers = append(app.closers, repo)
		app.Ledger = repo
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return fmt.Errorf("LEDGER_BACKEND=postgres requires DATABASE_URL")
		}
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			return err
		}
		app.closers = append(app.closers, sqlDB)
		if !readOnly {
			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				return err
			}
		}
		app.DB = sqlDB
		app.Ledger = &ledger.PGRepo{DB: sqlDB}
	default:
		app.Ledger = ledger.NewFileRepo(cfg.LedgerPath)
	}
	return nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.LedgerQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.LedgerQueueURL, cfg.AWSRegion)
}

func buildHealth(app *App) *health.Service {
	checks := map[string]health.Check{
		"ledger": func(ctx context.Context) error {
			_, err := app.Ledger.History(ctx, healthProbeName)
			return err
		},
		"store": func(ctx context.Context) error {
			_, err := app.Store.Exists(ctx, healthProbeName)
			return err
		},
	}
	if app.DB != nil {
		checks["database"] = app.DB.PingContext
	}
	return health.NewService(checks)
}
