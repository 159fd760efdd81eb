package lpgeo

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	UnknownCity  = "Desconhecida"
	UnknownOther = "Desconhecido"

	userAgent = "AgenciaM2A/1.0"
)

var ErrNoData = errors.New("aucune donnée de géolocalisation")

type Location struct {
	City    string `json:"cidade"`
	Region  string `json:"estado"`
	Country string `json:"pais"`
	ISP     string `json:"provedor"`
}

func Unknown() Location {
	return Location{
		City:    UnknownCity,
		Region:  UnknownOther,
		Country: UnknownOther,
		ISP:     UnknownOther,
	}
}

// fill complète les champs vides avec les valeurs inconnues
func (l Location) fill() Location {
	u := Unknown()
	if l.City == "" {
		l.City = u.City
	}
	if l.Region == "" {
		l.Region = u.Region
	}
	if l.Country == "" {
		l.Country = u.Country
	}
	if l.ISP == "" {
		l.ISP = u.ISP
	}
	return l
}

type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip netip.Addr) (Location, error)
}

// Cache est un stockage clé/valeur texte, "" signifie absent
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Locator interroge les fournisseurs dans l'ordre jusqu'au premier succès.
// timeout borne toute la chaîne, pas chaque fournisseur.
type Locator struct {
	providers []Provider
	timeout   time.Duration
	cache     Cache
	ttl       time.Duration
}

func NewLocator(timeout time.Duration, providers ...Provider) *Locator {
	return &Locator{
		providers: providers,
		timeout:   timeout,
	}
}

func (l *Locator) WithCache(cache Cache, ttl time.Duration) *Locator {
	if ttl > 0 {
		l.cache = cache
		l.ttl = ttl
	}
	return l
}

// Locate ne renvoie jamais d'erreur, un échec donne Unknown()
func (l *Locator) Locate(ctx context.Context, raw string) Location {
	ip, err := netip.ParseAddr(raw)
	if err != nil || !routable(ip) {
		return Unknown()
	}

	key := "geo:" + ip.String()
	if loc, ok := l.cached(ctx, key); ok {
		return loc
	}

	lookupCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	for _, p := range l.providers {
		if lookupCtx.Err() != nil {
			break
		}
		loc, err := p.Lookup(lookupCtx, ip)
		if err != nil {
			log.Debug().Err(err).Str("provider", p.Name()).Str("ip", ip.String()).Msg("géolocalisation échouée")
			continue
		}
		loc = loc.fill()
		l.store(ctx, key, loc)
		return loc
	}

	log.Warn().Str("ip", ip.String()).Msg("aucun fournisseur de géolocalisation disponible")
	return Unknown()
}

func (l *Locator) cached(ctx context.Context, key string) (Location, bool) {
	if l.cache == nil {
		return Location{}, false
	}
	raw, err := l.cache.Get(ctx, key)
	if err != nil || raw == "" {
		return Location{}, false
	}
	var loc Location
	if err := json.Unmarshal([]byte(raw), &loc); err != nil {
		return Location{}, false
	}
	return loc, true
}

func (l *Locator) store(ctx context.Context, key string, loc Location) {
	if l.cache == nil {
		return
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	if err := l.cache.Set(ctx, key, string(data), l.ttl); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("cache géolocalisation non écrit")
	}
}

// routable exclut les adresses qu'aucun service ne sait situer
func routable(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsValid() &&
		!ip.IsUnspecified() &&
		!ip.IsLoopback() &&
		!ip.IsPrivate() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsMulticast()
}
