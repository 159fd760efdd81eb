package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	handlers_stats "leadpulse/internal/handlers/stats"
	handlers_visitors "leadpulse/internal/handlers/visitors"
	"leadpulse/internal/lpmetrics"
	"leadpulse/internal/lpmiddleware"
	"leadpulse/internal/models/lpapp"
	"leadpulse/internal/models/lpconfig"
	"leadpulse/internal/models/lplog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const VERSION string = "1.2.0"

var BuildID string

func initConfiguration() *lpconfig.Config {
	configFile, shouldCreateExample, versionDisplay, err := parseCommandLineArgs()
	if err != nil {
		fmt.Println("Usage:")
		fmt.Println("  leadpulse -config leadpulse.yaml")
		fmt.Println("  leadpulse -example  (pour créer un fichier exemple)")
		fmt.Println("  leadpulse -version  (affiche la version)")
		os.Exit(1)
	}

	if versionDisplay {
		println(VERSION)
		os.Exit(0)
	}

	lpconfig.CreateExample(shouldCreateExample, configFile)

	conf, err := loadConfiguration(configFile, ".env")
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	return conf
}

func loadConfiguration(configFile, envFile string) (*lpconfig.Config, error) {
	conf, err := lpconfig.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("erreur chargement config: %w", err)
	}
	if err := lpconfig.ApplyEnv(conf, envFile); err != nil {
		return nil, err
	}
	if err := lpconfig.Validate(conf); err != nil {
		return nil, err
	}
	if err := lpconfig.HashUserPass(conf, configFile); err != nil {
		return nil, err
	}
	return conf, nil
}

func newServer(conf *lpconfig.Config) *gin.Engine {
	if conf.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.HandleMethodNotAllowed = true

	if conf.TrustedProxies != nil {
		r.SetTrustedProxies(conf.TrustedProxies)
	}
	if conf.TrustedPlatform != "" {
		switch conf.TrustedPlatform {
		case "cloudflare":
			r.TrustedPlatform = gin.PlatformCloudflare
		case "google":
			r.TrustedPlatform = gin.PlatformGoogleAppEngine
		case "flyio":
			r.TrustedPlatform = gin.PlatformFlyIO
		default:
			r.TrustedPlatform = conf.TrustedPlatform
		}
	}

	lpmiddleware.InitMiddleware(r, lpmiddleware.CORSConfig{
		AllowedOrigins: conf.Cors.AllowedOrigins,
		DefaultOrigin:  conf.Cors.DefaultOrigin,
	})
	return r
}

func setRoutes(r *gin.Engine, app *lpapp.App) {
	lpmetrics.Init(r)

	visitors := handlers_visitors.NewVisitorsHandler(app.Visitors)
	stats := handlers_stats.NewStatsHandler(app.Stats)
	limiter := lpmiddleware.NewLimiter(app.Configuration.Tracking.RateLimit)
	countReports := lpmetrics.CountReports()

	r.NoRoute(handlers_visitors.NotFound)
	r.NoMethod(handlers_visitors.MethodNotAllowed)

	r.GET("/verify", visitors.Verify)
	r.POST("/register", countReports, limiter, visitors.Register)

	// chemins historiques du site
	api := r.Group("/api")
	{
		api.GET("/verificar-visitante", visitors.Verify)
		api.POST("/registrar-visitante", countReports, limiter, visitors.Register)
	}

	admin := r.Group("/admin")
	admin.Use(lpmiddleware.BasicAuth(app.Configuration.User.Login, app.Configuration.User.Hash))
	{
		admin.GET("/stats", stats.GetStats30Days)
		admin.GET("/stats/realtime", stats.GetRealtimeStats)
	}
}

func startServer(ctx context.Context, r *gin.Engine, conf *lpconfig.Config) error {
	if conf.Listen.Metrics != "" {
		log.Info().Msgf("Metrics disponible sur http://%s/metrics", conf.Listen.Metrics)
		go func() {
			if err := lpmetrics.Serve(conf.Listen.Metrics); err != nil {
				log.Error().Err(err).Msg("serveur metrics arrêté")
			}
		}()
	}

	srv := &http.Server{
		Addr:              conf.Listen.Website,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Msgf("Website démarré sur http://%s", conf.Listen.Website)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("arrêt du serveur")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func parseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return "", true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func main() {
	if BuildID == "" {
		BuildID = VERSION
	}

	conf := initConfiguration()
	if err := lplog.InitLogger(conf.Logger, conf.Production); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	lpconfig.DisplayConfiguration(conf, VERSION)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := lpapp.Init(ctx, conf, VERSION, BuildID)
	if err != nil {
		log.Fatal().Err(err).Msg("initialisation impossible")
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Error().Err(err).Msg("fermeture incomplète")
		}
	}()

	if err := app.Stats.StartCron(conf.Tracking.RollupCron); err != nil {
		log.Error().Err(err).Msg("rollup désactivé")
	}

	r := newServer(conf)
	setRoutes(r, app)

	if err := startServer(ctx, r, conf); err != nil {
		log.Error().Err(err).Msg("serveur arrêté")
	}
}
