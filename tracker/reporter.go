package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 30 * time.Second

var ErrStopped = errors.New("tracker arrêté")

type State int

const (
	StateIdle State = iota
	// identité et oracle en cours de résolution, hors verrou
	StateStarting
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	default:
		return "stopped"
	}
}

type Option func(*Reporter)

func WithClock(c quartz.Clock) Option {
	return func(r *Reporter) { r.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithPage(p Page) Option {
	return func(r *Reporter) { r.page = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Reporter) { r.logger = l }
}

// Reporter envoie l'activité d'un chargement de page. Chaque rapport ne
// porte que ce qui n'a pas encore été accepté par le serveur: un delta est
// réservé avant l'envoi et rendu en cas d'échec, il repart au tick suivant.
type Reporter struct {
	storage   Storage
	transport Transport
	clock     quartz.Clock
	interval  time.Duration
	page      Page
	logger    zerolog.Logger

	engagement *Engagement

	mu     sync.Mutex
	state  State
	uuid   string
	cancel context.CancelFunc
	ticker quartz.Waiter

	// un seul envoi à la fois
	sendMu sync.Mutex

	ackMu sync.Mutex
	acked Snapshot
}

func NewReporter(storage Storage, transport Transport, opts ...Option) *Reporter {
	r := &Reporter{
		storage:   storage,
		transport: transport,
		clock:     quartz.NewReal(),
		interval:  DefaultInterval,
		logger:    log.Logger.With().Str("component", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.engagement = NewEngagement(r.clock.Now())
	return r
}

func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) UUID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uuid
}

// Snapshot renvoie les compteurs cumulés depuis le chargement
func (r *Reporter) Snapshot() Snapshot {
	return r.engagement.Snapshot(r.clock.Now())
}

// StartWithConsent ne démarre que si le consentement est enregistré
func (r *Reporter) StartWithConsent(ctx context.Context) (bool, error) {
	if !HasConsent(r.storage) {
		r.logger.Debug().Msg("pas de consentement, tracking inactif")
		return false, nil
	}
	return true, r.Start(ctx)
}

// Start passe de idle à active: identité, oracle, premier rapport puis
// rapports périodiques. Sans effet si déjà actif ou en démarrage.
// L'appel à l'oracle se fait sans verrou: clics et beacon ne l'attendent pas.
func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	switch r.state {
	case StateStarting, StateActive:
		r.mu.Unlock()
		return nil
	case StateStopped:
		r.mu.Unlock()
		return ErrStopped
	}
	r.state = StateStarting
	r.mu.Unlock()

	id, created, err := GetOrCreateIdentity(r.storage)
	if err != nil {
		r.logger.Warn().Err(err).Msg("identité non persistée")
	}
	r.engagement.SetNewVisitor(r.seedNewVisitor(ctx, id, created))

	r.mu.Lock()
	if r.state != StateStarting {
		// Stop pendant le démarrage
		r.mu.Unlock()
		return ErrStopped
	}
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.uuid = id
	r.cancel = cancel
	r.state = StateActive
	r.ticker = r.clock.TickerFunc(tickCtx, r.interval, func() error {
		// un envoi en cours n'est pas annulé par Stop
		_ = r.send(context.WithoutCancel(tickCtx))
		return nil
	}, "reporter")
	r.mu.Unlock()

	r.logger.Info().Str("uuid", id).Bool("created", created).Msg("tracking démarré")
	_ = r.send(ctx)
	return nil
}

// seedNewVisitor consulte /verify sauf pour une identité toute neuve.
// En cas d'échec le visiteur est supposé nouveau.
func (r *Reporter) seedNewVisitor(ctx context.Context, id string, created bool) bool {
	if created {
		return true
	}
	exists, err := r.transport.Exists(ctx, id)
	if err != nil {
		r.logger.Warn().Err(err).Str("uuid", id).Msg("vérification du visiteur impossible")
		return true
	}
	return !exists
}

// Stop arrête les ticks et envoie un dernier rapport. Pendant le
// démarrage il annule simplement Start, rien n'a encore été envoyé.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateStarting {
		r.state = StateStopped
		r.mu.Unlock()
		return nil
	}
	if r.state != StateActive {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopped
	r.cancel()
	ticker := r.ticker
	r.mu.Unlock()

	_ = ticker.Wait()
	err := r.send(ctx)
	r.logger.Info().Str("uuid", r.UUID()).Msg("tracking arrêté")
	return err
}

func (r *Reporter) RecordClick(target *Element) {
	if r.State() != StateActive {
		return
	}
	r.engagement.RecordClick(target)
}

// Flush envoie un rapport immédiat
func (r *Reporter) Flush(ctx context.Context) error {
	if r.State() != StateActive {
		return nil
	}
	return r.send(ctx)
}

// PageHidden correspond au passage de l'onglet en arrière-plan
func (r *Reporter) PageHidden(ctx context.Context) error {
	return r.Flush(ctx)
}

// PageUnload confie le reste au beacon et rend la main tout de suite.
// Le delta est considéré comme livré.
func (r *Reporter) PageUnload() {
	if r.State() != StateActive {
		return
	}
	delta := r.reserve()
	r.transport.Beacon(buildReport(r.UUID(), delta, r.page))
}

func (r *Reporter) send(ctx context.Context) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	delta := r.reserve()
	id := r.UUID()
	res, err := r.transport.Send(ctx, buildReport(id, delta, r.page))
	if err != nil {
		r.release(delta)
		r.logger.Error().Err(err).Str("uuid", id).Msg("envoi du rapport échoué")
		return err
	}

	r.engagement.SetNewVisitor(false)
	r.logger.Debug().
		Str("uuid", id).
		Uint("visitante_id", res.VisitorID).
		Bool("created", res.Created).
		Int64("clicks", delta.TotalClicks).
		Int64("duration", delta.DurationSeconds).
		Msg("rapport envoyé")
	return nil
}

// reserve marque le delta courant comme en cours de livraison
func (r *Reporter) reserve() Snapshot {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()

	delta := r.engagement.Snapshot(r.clock.Now()).Sub(r.acked)
	r.acked = r.acked.Add(delta)
	return delta
}

// release rend un delta non livré, il repartira au prochain envoi
func (r *Reporter) release(delta Snapshot) {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()
	r.acked = r.acked.Sub(delta)
}
