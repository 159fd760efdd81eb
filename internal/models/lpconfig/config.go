package lpconfig

import (
	"errors"
	"fmt"
	"log/syslog"
	"os"
	"strings"

	"github.com/andskur/argon2-hashing"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOrigin        = "https://agenciam2a.com.br"
	DefaultGeoTimeout    = 5
	DefaultNotifyTimeout = 5
	DefaultRateLimit     = 60
)

type Config struct {
	TrustedProxies  []string       `yaml:"trustedproxies"`
	TrustedPlatform string         `yaml:"trustedplatform"`
	Database        DatabaseConfig `yaml:"database"`
	User            UserConfig     `yaml:"user"`
	Production      bool           `yaml:"production"`
	Listen          ListenConfig   `yaml:"listen"`
	Logger          LoggerConfig   `yaml:"logger"`
	Cors            CorsConfig     `yaml:"cors"`
	Tracking        TrackingConfig `yaml:"tracking"`
	Notifier        NotifierConfig `yaml:"notifier"`
	Geo             GeoConfig      `yaml:"geo"`
}

type CorsConfig struct {
	AllowedOrigins []string `yaml:"allowedorigins"`
	DefaultOrigin  string   `yaml:"defaultorigin"`
}

type TrackingConfig struct {
	// requêtes /register par minute et par IP
	RateLimit int `yaml:"ratelimit"`
	// secondes
	NotifyTimeout int `yaml:"notifytimeout"`
	// expression cron du rollup journalier, vide pour désactiver
	RollupCron string `yaml:"rollupcron"`
}

type NotifierConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Nats    NatsConfig    `yaml:"nats"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhookurl"`
	Username   string `yaml:"username"`
	AvatarURL  string `yaml:"avatarurl"`
	Timezone   string `yaml:"timezone"`
}

type NatsConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type GeoConfig struct {
	MaxMindPath string `yaml:"maxmindpath"`
	PrimaryURL  string `yaml:"primaryurl"`
	FallbackURL string `yaml:"fallbackurl"`
	// secondes, toujours entre 1 et 9
	Timeout int `yaml:"timeout"`
	// heures de cache redis, 0 pour désactiver
	CacheTTL int `yaml:"cachettl"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
	Metrics string `yaml:"metrics"`
}

type UserConfig struct {
	Login string `yaml:"login"`
	Pass  string `yaml:"pass"`
	Hash  string `yaml:"hash"`
}

type DatabaseConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Db    string      `yaml:"db"`
	Path  string      `yaml:"path"`
	Dsn   string      `yaml:"dsn"`
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./leadpulse.db",
		},
		User: UserConfig{
			Login: "admin",
			Pass:  "admin1234",
		},
		Production: false,
		Logger: LoggerConfig{
			Level: "info",
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
			Metrics: "127.0.0.1:8090",
		},
		Cors: CorsConfig{
			AllowedOrigins: []string{"https://agenciam2a.com.br", "https://agenciam2a.net"},
			DefaultOrigin:  DefaultOrigin,
		},
		Tracking: TrackingConfig{
			RateLimit:     DefaultRateLimit,
			NotifyTimeout: DefaultNotifyTimeout,
			RollupCron:    "0 3 * * *",
		},
		Notifier: NotifierConfig{
			Discord: DiscordConfig{
				Username:  "Site Agência m2a",
				AvatarURL: "https://agenciam2a.com.br/assets/img/logo-icon.png",
				Timezone:  "America/Sao_Paulo",
			},
			Nats: NatsConfig{
				Subject: "visitors.created",
			},
		},
		Geo: GeoConfig{
			PrimaryURL:  "http://ip-api.com/json/",
			FallbackURL: "https://api.hackertarget.com/geoip/",
			Timeout:     DefaultGeoTimeout,
			CacheTTL:    24,
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.Database.Path = "/var/lib/leadpulse/sqlite.db"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/leadpulse/leadpulse.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/leadpulse/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %w", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %w", err)
	}

	return &config, nil
}

// ApplyEnv surcharge les secrets depuis un fichier .env puis l'environnement.
// Un fichier absent n'est pas une erreur.
func ApplyEnv(conf *Config, envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("erreur lecture %s: %w", envFile, err)
		}
	}

	if v, ok := os.LookupEnv("DB_DSN"); ok && v != "" {
		conf.Database.Dsn = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok && v != "" {
		conf.Database.Redis.Addr = v
	}
	if v, ok := os.LookupEnv("DISCORD_WEBHOOK_VISITANTES"); ok && v != "" {
		conf.Notifier.Discord.WebhookURL = v
	}
	if v, ok := os.LookupEnv("NATS_URL"); ok && v != "" {
		conf.Notifier.Nats.URL = v
	}
	if v, ok := os.LookupEnv("ADMIN_PASS"); ok && v != "" {
		conf.User.Pass = v
	}
	return nil
}

// Validate contrôle la configuration et applique les valeurs par défaut
func Validate(conf *Config) error {
	switch conf.Database.Db {
	case "":
		return fmt.Errorf("database.db ne peut pas être vide")
	case "sqlite":
		if conf.Database.Path == "" {
			return fmt.Errorf("database.path ne peut pas être vide")
		}
	case "mysql", "postgres":
		if conf.Database.Dsn == "" {
			return fmt.Errorf("database.dsn ne peut pas être vide")
		}
	default:
		return fmt.Errorf("le type de database doit etre sqlite, mysql ou postgres")
	}

	if conf.Listen.Website == "" {
		conf.Listen.Website = "localhost:8080"
	}
	if strings.HasPrefix(conf.Listen.Website, ":") {
		conf.Listen.Website = "localhost" + conf.Listen.Website
	}

	if conf.Cors.DefaultOrigin == "" {
		conf.Cors.DefaultOrigin = DefaultOrigin
	}

	if conf.Tracking.RateLimit <= 0 {
		conf.Tracking.RateLimit = DefaultRateLimit
	}
	if conf.Tracking.NotifyTimeout <= 0 || conf.Tracking.NotifyTimeout > 9 {
		conf.Tracking.NotifyTimeout = DefaultNotifyTimeout
	}
	if conf.Geo.Timeout <= 0 || conf.Geo.Timeout > 9 {
		conf.Geo.Timeout = DefaultGeoTimeout
	}
	if conf.Notifier.Nats.Subject == "" {
		conf.Notifier.Nats.Subject = "visitors.created"
	}

	if conf.User.Pass != "" && len(conf.User.Pass) < 8 {
		return fmt.Errorf("le mot de passe doit contenir au moins 8 caractères")
	}

	return nil
}

// HashUserPass remplace user.pass par son hash argon2 et réécrit le fichier
func HashUserPass(conf *Config, configFile string) error {
	if conf.User.Pass == "" {
		return nil
	}

	hash, err := argon2.GenerateFromPassword([]byte(conf.User.Pass), argon2.DefaultParams)
	if err != nil {
		return err
	}
	conf.User.Hash = string(hash)
	conf.User.Pass = ""
	return WriteConfigYaml(configFile, conf)
}

func CreateExample(shouldCreateExample bool, configFile string) {
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "leadpulse.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %w", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	fmt.Println("⚠️  user.pass sera automatiquement hash en argon2 dans user.hash au premier lancement")
	return nil
}

func DisplayConfiguration(config *Config, version string) {
	logPrintf("Leadpulse version %s", version)

	logPrintf("Mode Production %v", config.Production)
	logPrintf("Administrateur login %s", config.User.Login)

	logPrintf("Database")
	switch config.Database.Db {
	case "sqlite":
		logPrintf("  • Type sqlite")
		logPrintf("  • Path %s", config.Database.Path)
	case "mysql", "postgres":
		logPrintf("  • Type %s", config.Database.Db)
	}
	if config.Database.Redis.Addr != "" {
		logPrintf("  • Cache redis %s", config.Database.Redis.Addr)
	} else {
		logPrintf("  • Cache redis désactivé")
	}

	logPrintf("CORS")
	for _, origin := range config.Cors.AllowedOrigins {
		logPrintf("  • Origine autorisée %s", origin)
	}
	logPrintf("  • Origine par défaut %s", config.Cors.DefaultOrigin)

	logPrintf("Notifications")
	if config.Notifier.Discord.WebhookURL != "" {
		logPrintf("  • Discord activé")
	} else {
		logPrintf("  • Discord désactivé")
	}
	if config.Notifier.Nats.URL != "" {
		logPrintf("  • NATS %s sujet %s", config.Notifier.Nats.URL, config.Notifier.Nats.Subject)
	}

	logPrintf("Géolocalisation")
	if config.Geo.MaxMindPath != "" {
		logPrintf("  • MaxMind %s", config.Geo.MaxMindPath)
	}
	logPrintf("  • Primaire %s", config.Geo.PrimaryURL)
	logPrintf("  • Secours %s", config.Geo.FallbackURL)
	logPrintf("  • Timeout %ds", config.Geo.Timeout)

	if config.Listen.Metrics != "" {
		logPrintf("Metrics sur %s", config.Listen.Metrics)
	}

	logPrintf("Logger en level %s", config.Logger.Level)
	if config.Logger.File.Enable {
		logPrintf("  Log en fichier activé")
		logPrintf("  • Path %s", config.Logger.File.Path)
		logPrintf("  • Max size %d", config.Logger.File.MaxSize)
		logPrintf("  • Max age %d", config.Logger.File.MaxAge)
		logPrintf("  • Max backup %d", config.Logger.File.MaxBackups)
		logPrintf("  • Compression %v", config.Logger.File.Compress)
	} else {
		logPrintf("  Log en fichier désactivé")
	}
	if config.Logger.Syslog.Enable {
		logPrintf("  Log en syslog activé")
		logPrintf("  • Protocol %s", config.Logger.Syslog.Protocol)
		logPrintf("  • Address %s", config.Logger.Syslog.Address)
		logPrintf("  • Tag %s", config.Logger.Syslog.Tag)
	} else {
		logPrintf("  Log en syslog désactivé")
	}
}

func logPrintf(format string, a ...any) {
	log.Info().Msg(fmt.Sprintf(format, a...))
}
