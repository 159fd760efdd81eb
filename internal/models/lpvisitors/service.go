package lpvisitors

import (
	"context"
	"leadpulse/internal/models/lpdevice"
	"leadpulse/internal/models/lpgeo"
	"leadpulse/internal/models/lpnotify"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultNotifyTimeout = 5 * time.Second

// Geolocator ne renvoie jamais d'erreur, les échecs donnent des valeurs par défaut
type Geolocator interface {
	Locate(ctx context.Context, ip string) lpgeo.Location
}

// KnownCache mémorise les uuid déjà persistés. Un absent n'est pas une preuve.
type KnownCache interface {
	IsKnown(ctx context.Context, uuid string) (bool, error)
	MarkKnown(ctx context.Context, uuid string) error
}

type Realtime interface {
	RecordReport(ctx context.Context, uuid string, created bool) error
}

// ClientInfo regroupe ce que le serveur sait de l'appelant
type ClientInfo struct {
	IP        string
	UserAgent string
}

type Service struct {
	repo          *Repository
	geo           Geolocator
	notifier      lpnotify.Notifier
	known         KnownCache
	realtime      Realtime
	notifyTimeout time.Duration
	now           func() time.Time

	pending sync.WaitGroup
}

type Option func(*Service)

func WithGeolocator(g Geolocator) Option {
	return func(s *Service) { s.geo = g }
}

func WithNotifier(n lpnotify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithKnownCache(k KnownCache) Option {
	return func(s *Service) { s.known = k }
}

func WithRealtime(r Realtime) Option {
	return func(s *Service) { s.realtime = r }
}

func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func NewService(repo *Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		notifyTimeout: defaultNotifyTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify répond à /verify. Réponse indicative, jamais utilisée pour dédoublonner.
func (s *Service) Verify(ctx context.Context, rawUUID string) (bool, error) {
	uuid, err := ParseUUID(rawUUID)
	if err != nil {
		return false, err
	}

	if s.known != nil {
		known, err := s.known.IsKnown(ctx, uuid)
		if err != nil {
			log.Warn().Err(err).Str("uuid", uuid).Msg("cache visiteurs indisponible")
		} else if known {
			return true, nil
		}
	}

	exists, err := s.repo.Exists(ctx, uuid)
	if err != nil {
		log.Error().Err(err).Str("uuid", uuid).Msg("erreur vérification visiteur")
		return false, persistence(msgVerifyFailed, err)
	}
	return exists, nil
}

// Register fusionne un rapport et notifie si la ligne vient d'être créée
func (s *Service) Register(ctx context.Context, report Report, client ClientInfo) (UpsertResult, error) {
	if report.UUID == "" {
		return UpsertResult{}, validation(msgVisitorRequired, errMissingUUID)
	}

	visitor := s.buildVisitor(ctx, report, client)

	res, err := s.repo.Upsert(ctx, visitor)
	if err != nil {
		log.Error().Err(err).Str("uuid", report.UUID).Msg("erreur enregistrement visiteur")
		return UpsertResult{}, persistence(msgSaveFailed, err)
	}

	log.Info().
		Str("uuid", report.UUID).
		Uint("id", res.ID).
		Bool("created", res.Created).
		Bool("client_new", report.NovoVisitante).
		Int64("clicks", report.TotalCliques).
		Int64("duration", report.DuracaoSessao).
		Msg("rapport visiteur fusionné")

	s.afterUpsert(ctx, report.UUID, res.Created)

	if res.Created {
		s.notify(ctx, toEvent(res.ID, visitor))
	}
	return res, nil
}

// Wait bloque jusqu'à la fin des notifications en cours
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) buildVisitor(ctx context.Context, r Report, client ClientInfo) *Visitor {
	device := lpdevice.Detect(client.UserAgent)
	if r.Navegador != "" {
		device.Browser = r.Navegador
	}
	if r.SistemaOperacional != "" {
		device.OS = r.SistemaOperacional
	}
	if r.MarcaDispositivo != "" {
		device.Brand = r.MarcaDispositivo
	}
	if r.Movel != nil {
		device.Mobile = *r.Movel
	}

	loc := lpgeo.Unknown()
	if s.geo != nil {
		loc = s.geo.Locate(ctx, client.IP)
	}

	return &Visitor{
		UUID:                      r.UUID,
		NovoVisitante:             r.NovoVisitante,
		IP:                        client.IP,
		Provedor:                  loc.ISP,
		Cidade:                    loc.City,
		Estado:                    loc.Region,
		Pais:                      loc.Country,
		Navegador:                 device.Browser,
		SistemaOperacional:        device.OS,
		MarcaDispositivo:          device.Brand,
		Movel:                     device.Mobile,
		DimensaoTela:              r.DimensaoTela,
		Referrer:                  r.Referrer,
		UtmSource:                 r.UTM.Source,
		UtmMedium:                 r.UTM.Medium,
		UtmCampaign:               r.UTM.Campaign,
		UtmContent:                r.UTM.Content,
		UtmTerm:                   r.UTM.Term,
		TotalCliques:              r.TotalCliques,
		CliquesElementosClicaveis: r.CliquesElementosClicaveis,
		DuracaoSessao:             r.DuracaoSessao,
	}
}

// afterUpsert alimente les caches redis, sans effet sur la réponse
func (s *Service) afterUpsert(ctx context.Context, uuid string, created bool) {
	if s.known != nil {
		if err := s.known.MarkKnown(ctx, uuid); err != nil {
			log.Warn().Err(err).Str("uuid", uuid).Msg("cache visiteurs non mis à jour")
		}
	}
	if s.realtime != nil {
		if err := s.realtime.RecordReport(ctx, uuid, created); err != nil {
			log.Warn().Err(err).Str("uuid", uuid).Msg("compteurs temps réel non mis à jour")
		}
	}
}

// notify part hors de la requête avec son propre délai
func (s *Service) notify(ctx context.Context, event lpnotify.Event) {
	if s.notifier == nil {
		return
	}
	event.CreatedAt = s.now()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		if err := s.notifier.Notify(nctx, event); err != nil {
			log.Error().Err(err).Str("uuid", event.UUID).Msg("échec notification nouveau visiteur")
			return
		}
		log.Debug().Str("uuid", event.UUID).Msg("notification envoyée")
	}()
}

func toEvent(id uint, v *Visitor) lpnotify.Event {
	return lpnotify.Event{
		ID:                 id,
		UUID:               v.UUID,
		IP:                 v.IP,
		Provedor:           v.Provedor,
		Cidade:             v.Cidade,
		Estado:             v.Estado,
		Pais:               v.Pais,
		Navegador:          v.Navegador,
		SistemaOperacional: v.SistemaOperacional,
		MarcaDispositivo:   v.MarcaDispositivo,
		Movel:              v.Movel,
		DuracaoSessao:      v.DuracaoSessao,
		Referrer:           v.Referrer,
		UtmSource:          v.UtmSource,
		UtmMedium:          v.UtmMedium,
		UtmCampaign:        v.UtmCampaign,
		UtmContent:         v.UtmContent,
		UtmTerm:            v.UtmTerm,
	}
}
