package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/gorm"

	"github.com/Marfusios/strike-lightning-bridge/config"
	"github.com/Marfusios/strike-lightning-bridge/constants"
	"github.com/Marfusios/strike-lightning-bridge/db"
	"github.com/Marfusios/strike-lightning-bridge/db/migrations"
	"github.com/Marfusios/strike-lightning-bridge/events"
	lnstrike "github.com/Marfusios/strike-lightning-bridge/lnclient/strike"
	"github.com/Marfusios/strike-lightning-bridge/logger"
	"github.com/Marfusios/strike-lightning-bridge/pkg/version"
	"github.com/Marfusios/strike-lightning-bridge/reconciler"
	"github.com/Marfusios/strike-lightning-bridge/registry"
	strikeapi "github.com/Marfusios/strike-lightning-bridge/strike"
)

type Service struct {
	appConfig      *config.AppConfig
	db             *gorm.DB
	eventPublisher events.EventPublisher
	registry       *registry.Registry
	reconciler     *reconciler.Reconciler
	ctx            context.Context
}

// NewService loads the environment configuration, opens the database
// and connects a client for every configured tenant. The
// reconciliation loop is running by the time this returns.
func NewService(ctx context.Context) (*Service, error) {
	godotenv.Load(".env")
	appConfig := &config.AppConfig{}
	err := envconfig.Process("", appConfig)
	if err != nil {
		return nil, err
	}

	logger.Init(appConfig.LogLevel)
	logger.Logger.Info().Msg("Strike lightning bridge " + version.Tag)

	if appConfig.Workdir == "" {
		appConfig.Workdir = filepath.Join(xdg.DataHome, "/strike-bridge")
		logger.Logger.Info().Interface("workdir", appConfig.Workdir).Msg("No workdir specified, using default")
	}
	os.MkdirAll(appConfig.Workdir, os.ModePerm)

	if appConfig.LogToFile {
		err = logger.AddFileLogger(appConfig.Workdir)
		if err != nil {
			return nil, err
		}
	}

	// If DATABASE_URI is a URI or a path, leave it unchanged.
	// If it only contains a filename, prepend the workdir.
	if !strings.HasPrefix(appConfig.DatabaseUri, "file:") {
		databasePath, _ := filepath.Split(appConfig.DatabaseUri)
		if databasePath == "" {
			appConfig.DatabaseUri = filepath.Join(appConfig.Workdir, appConfig.DatabaseUri)
		}
	}

	gormDB, err := db.NewDB(appConfig.DatabaseUri, appConfig.LogDBQueries)
	if err != nil {
		return nil, err
	}
	err = migrations.Migrate(gormDB)
	if err != nil {
		return nil, err
	}

	eventPublisher := events.NewEventPublisher()
	clientRegistry := registry.NewRegistry()

	svc := &Service{
		appConfig:      appConfig,
		db:             gormDB,
		eventPublisher: eventPublisher,
		registry:       clientRegistry,
		ctx:            ctx,
	}

	if len(appConfig.Connections) == 0 {
		logger.Logger.Warn().Msg("No tenant connections configured, nothing will be polled")
	}
	for _, connectionString := range appConfig.Connections {
		err = svc.connectTenant(ctx, connectionString)
		if err != nil {
			db.Stop(gormDB)
			return nil, err
		}
	}

	pollInterval := time.Duration(appConfig.PollIntervalMs) * time.Millisecond
	svc.reconciler = reconciler.NewReconciler(gormDB, clientRegistry, eventPublisher, pollInterval)
	svc.reconciler.Start(ctx)

	eventPublisher.Publish(&events.Event{Event: constants.EVENT_BRIDGE_STARTED})

	return svc, nil
}

// connectTenant parses one connection string, verifies the account
// behind it and registers the resulting client.
func (svc *Service) connectTenant(ctx context.Context, connectionString string) error {
	values, err := config.ExtractConnectionValues(connectionString)
	if err != nil {
		return err
	}
	settings, err := config.ParseConnectionValues(values)
	if err != nil {
		return err
	}
	if settings == nil {
		return errors.New("unsupported connection type in connection string")
	}

	gateway := strikeapi.NewClient(settings.ApiKey, settings.Server)
	client, err := lnstrike.NewStrikeClient(ctx, settings, gateway, svc.db, svc.eventPublisher)
	if err != nil {
		return err
	}
	svc.registry.Set(client)
	return nil
}

func (svc *Service) GetConfig() *config.AppConfig {
	return svc.appConfig
}

func (svc *Service) GetDB() *gorm.DB {
	return svc.db
}

func (svc *Service) GetEventPublisher() events.EventPublisher {
	return svc.eventPublisher
}

func (svc *Service) GetRegistry() *registry.Registry {
	return svc.registry
}

func (svc *Service) GetReconciler() *reconciler.Reconciler {
	return svc.reconciler
}

func (svc *Service) Shutdown() {
	svc.eventPublisher.PublishSync(&events.Event{Event: constants.EVENT_BRIDGE_STOPPED})
	err := db.Stop(svc.db)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to close the database")
	}
}
