package lpmiddleware

import (
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	argon2 "github.com/andskur/argon2-hashing"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

const fallbackIP = "0.0.0.0"

type CORSConfig struct {
	AllowedOrigins []string
	DefaultOrigin  string
}

func InitMiddleware(r *gin.Engine, cors CORSConfig) {
	r.Use(Logger())
	r.Use(Recovery())

	// CORS avant gzip, le preflight s'arrête ici
	r.Use(CORS(cors))

	r.Use(gzip.Gzip(gzip.BestSpeed))
}

// CORS renvoie l'origine si elle est autorisée, l'origine par défaut sinon
func CORS(cfg CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if !slices.Contains(cfg.AllowedOrigins, origin) {
			origin = cfg.DefaultOrigin
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// NewLimiter limite par IP le nombre de requêtes par minute. La clé est
// c.ClientIP(), les en-têtes de proxy ne comptent que si le pair est dans
// trustedproxies.
func NewLimiter(perMinute int) gin.HandlerFunc {
	rate := limiter.Rate{
		Period: time.Minute,
		Limit:  int64(perMinute),
	}
	instance := limiter.New(memory.NewStore(), rate)
	return ginlimiter.NewMiddleware(instance,
		ginlimiter.WithKeyGetter(func(c *gin.Context) string {
			return c.ClientIP()
		}),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"erro": "Muitas requisições"})
		}),
	)
}

// BasicAuth protège l'administration, hash au format argon2
func BasicAuth(login, hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || hash == "" || user != login ||
			argon2.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
			log.Warn().Str("ip", ClientIP(c)).Str("user", user).Msg("authentification admin refusée")
			c.Header("WWW-Authenticate", `Basic realm="leadpulse"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"erro": "Não autorizado"})
			return
		}
		c.Next()
	}
}

// ClientIP lit les en-têtes de proxy puis l'adresse de connexion.
// Une valeur invalide donne 0.0.0.0. Sert à l'enrichissement et aux logs
// seulement, jamais à une décision de sécurité.
func ClientIP(c *gin.Context) string {
	for _, header := range []string{"X-Real-IP", "X-Forwarded-For", "Client-IP"} {
		value := c.GetHeader(header)
		if value == "" {
			continue
		}
		first, _, _ := strings.Cut(value, ",")
		if ip, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return ip.Unmap().String()
		}
	}
	if ip, err := netip.ParseAddr(c.ClientIP()); err == nil {
		return ip.Unmap().String()
	}
	return fallbackIP
}

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status == http.StatusNotFound:
			event = log.Debug()
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		default:
			event = log.Info()
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", ClientIP(c)).
			Str("origin", c.GetHeader("Origin")).
			Str("user_agent", c.Request.UserAgent()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP Request")

		for _, err := range c.Errors {
			log.Error().
				Err(err.Err).
				Str("type", strconv.FormatUint(uint64(err.Type), 10)).
				Msg("Request error")
		}
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Interface("error", err).
					Str("path", c.Request.URL.Path).
					Str("method", c.Request.Method).
					Msg("Panic recovered")

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"erro": "Erro interno"})
			}
		}()
		c.Next()
	}
}
