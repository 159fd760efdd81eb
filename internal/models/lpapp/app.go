package lpapp

import (
	"context"
	"errors"
	"fmt"
	"leadpulse/internal/gormzerologger"
	"leadpulse/internal/lpmetrics"
	"leadpulse/internal/lpredis"
	"leadpulse/internal/models/lpconfig"
	"leadpulse/internal/models/lpgeo"
	"leadpulse/internal/models/lpnotify"
	"leadpulse/internal/models/lpstats"
	"leadpulse/internal/models/lpvisitors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type App struct {
	Configuration *lpconfig.Config
	Db            *gorm.DB
	Redis         *lpredis.Store
	Visitors      *lpvisitors.Service
	Stats         *lpstats.StatsService
	Version       string
	BuildID       string

	closers []func() error
}

// Init ouvre la base, redis et les notifiers puis construit les services.
// Redis, NATS et MaxMind sont optionnels: un échec est journalisé et ignoré.
func Init(ctx context.Context, config *lpconfig.Config, version, buildid string) (*App, error) {
	app := &App{
		Configuration: config,
		Version:       version,
		BuildID:       buildid,
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	app.initRedis(ctx)

	repo := lpvisitors.NewRepository(app.Db)
	if err := repo.Migrate(); err != nil {
		return nil, fmt.Errorf("erreur migration: %w", err)
	}

	opts := []lpvisitors.Option{
		lpvisitors.WithGeolocator(app.initGeo()),
		lpvisitors.WithNotifier(app.initNotifier()),
		lpvisitors.WithNotifyTimeout(time.Duration(config.Tracking.NotifyTimeout) * time.Second),
	}
	if app.Redis != nil {
		opts = append(opts, lpvisitors.WithKnownCache(app.Redis), lpvisitors.WithRealtime(app.Redis))
	}
	app.Visitors = lpvisitors.NewService(repo, opts...)

	if app.Redis != nil {
		app.Stats = lpstats.NewStatsService(app.Db, app.Redis)
	} else {
		app.Stats = lpstats.NewStatsService(app.Db, nil)
	}
	if err := app.Stats.Migrate(); err != nil {
		return nil, fmt.Errorf("erreur migration: %w", err)
	}

	return app, nil
}

// Close attend les notifications en cours puis libère les ressources
func (app *App) Close() error {
	if app.Stats != nil {
		app.Stats.Stop()
	}
	if app.Visitors != nil {
		app.Visitors.Wait()
	}

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	return errors.Join(errs...)
}

func (app *App) initDatabase() error {
	level := "warn"
	if app.Configuration.Logger.Level == "debug" || !app.Configuration.Production {
		level = "info"
	}

	db, err := OpenDatabase(app.Configuration.Database, gormzerologger.New(level))
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if app.Configuration.Database.Db == "sqlite" {
		// sqlite n'accepte qu'un écrivain à la fois
		sqlDB.SetMaxOpenConns(1)
	}
	app.closers = append(app.closers, sqlDB.Close)
	app.Db = db
	return nil
}

func OpenDatabase(conf lpconfig.DatabaseConfig, gormLogger logger.Interface) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch conf.Db {
	case "sqlite":
		dialector = sqlite.Open(conf.Path)
	case "mysql":
		dialector = mysql.Open(conf.Dsn)
	case "postgres":
		dialector = postgres.Open(conf.Dsn)
	default:
		return nil, fmt.Errorf("le type de database doit etre sqlite, mysql ou postgres")
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("erreur connexion base de données: %w", err)
	}
	return db, nil
}

func (app *App) initRedis(ctx context.Context) {
	conf := app.Configuration.Database.Redis
	if conf.Addr == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	store, err := lpredis.Connect(ctx, conf.Addr, conf.Db)
	if err != nil {
		log.Warn().Err(err).Msg("redis indisponible, cache et temps réel désactivés")
		return
	}
	app.closers = append(app.closers, store.Close)
	app.Redis = store
}

func (app *App) initGeo() *lpgeo.Locator {
	conf := app.Configuration.Geo
	timeout := time.Duration(conf.Timeout) * time.Second
	client := &http.Client{Timeout: timeout}

	var providers []lpgeo.Provider
	if conf.MaxMindPath != "" {
		mm, err := lpgeo.OpenMaxMind(conf.MaxMindPath)
		if err != nil {
			log.Warn().Err(err).Msg("base maxmind ignorée")
		} else {
			app.closers = append(app.closers, mm.Close)
			providers = append(providers, mm)
		}
	}
	if conf.PrimaryURL != "" {
		providers = append(providers, &lpgeo.IPAPI{BaseURL: conf.PrimaryURL, Client: client})
	}
	if conf.FallbackURL != "" {
		providers = append(providers, &lpgeo.HackerTarget{BaseURL: conf.FallbackURL, Client: client})
	}

	locator := lpgeo.NewLocator(timeout, providers...)
	if app.Redis != nil {
		locator.WithCache(app.Redis, time.Duration(conf.CacheTTL)*time.Hour)
	}
	return locator
}

// initNotifier compte toujours les créations, discord et nats sont optionnels
func (app *App) initNotifier() lpnotify.Multi {
	conf := app.Configuration.Notifier
	notifiers := lpnotify.Multi{lpmetrics.Notifier{}}

	if conf.Discord.WebhookURL != "" {
		notifiers = append(notifiers, lpnotify.NewDiscord(
			conf.Discord.WebhookURL,
			conf.Discord.Username,
			conf.Discord.AvatarURL,
			conf.Discord.Timezone,
		))
	} else {
		log.Warn().Msg("webhook discord absent, pas de notification discord")
	}

	if conf.Nats.URL != "" {
		n, err := lpnotify.NewNATS(conf.Nats.URL, conf.Nats.Subject)
		if err != nil {
			log.Warn().Err(err).Msg("nats indisponible, publication désactivée")
		} else {
			app.closers = append(app.closers, n.Close)
			notifiers = append(notifiers, n)
		}
	}

	return notifiers
}
