package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu          sync.Mutex
	exists      bool
	existsErr   error
	existsCalls int
	failing     bool
	attempts    []Report
	delivered   []Report
	beacons     []Report
}

func (f *fakeTransport) Exists(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls++
	return f.exists, f.existsErr
}

func (f *fakeTransport) Send(_ context.Context, r Report) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, r)
	if f.failing {
		return Result{}, errors.New("réseau indisponible")
	}
	f.delivered = append(f.delivered, r)
	return Result{VisitorID: 1, Created: len(f.delivered) == 1}, nil
}

func (f *fakeTransport) Beacon(r Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beacons = append(f.beacons, r)
}

func (f *fakeTransport) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *fakeTransport) deliveredCopy() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.delivered...)
}

func sum(reports []Report) (clicks, clickable, duration int64) {
	for _, r := range reports {
		clicks += r.TotalCliques
		clickable += r.CliquesElementosClicaveis
		duration += r.DuracaoSessao
	}
	return
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestReporter(t *testing.T, storage Storage, tr Transport) (*Reporter, *quartz.Mock) {
	clock := quartz.NewMock(t)
	r := NewReporter(storage, tr,
		WithClock(clock),
		WithLogger(zerolog.Nop()),
		WithPage(Page{URL: "https://agenciam2a.com.br/?utm_campaign=verao", ScreenSize: "390x844"}),
	)
	t.Cleanup(func() { _ = r.Stop(context.Background()) })
	return r, clock
}

var link = &Element{Tag: "A", Parent: &Element{Tag: "BODY"}}

func TestReporterFreshIdentity(t *testing.T) {
	ctx := testContext(t)
	tr := &fakeTransport{exists: true}
	storage := NewMemoryStorage()
	r, _ := newTestReporter(t, storage, tr)

	require.NoError(t, r.Start(ctx))
	assert.Equal(t, StateActive, r.State())

	// identité neuve: pas d'appel à l'oracle
	assert.Equal(t, 0, tr.existsCalls)
	id, ok, _ := storage.Get(IdentityKey)
	require.True(t, ok)
	assert.Equal(t, id, r.UUID())

	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 1)
	assert.True(t, delivered[0].NovoVisitante)
	assert.Equal(t, "verao", delivered[0].UTMCampaign)
	assert.Equal(t, "390x844", delivered[0].DimensaoTela)

	require.NoError(t, r.Flush(ctx))
	delivered = tr.deliveredCopy()
	require.Len(t, delivered, 2)
	assert.False(t, delivered[1].NovoVisitante)

	// déjà actif
	require.NoError(t, r.Start(ctx))
	assert.Len(t, tr.deliveredCopy(), 2)
}

func TestReporterOracleSeedsFlag(t *testing.T) {
	tests := []struct {
		name      string
		exists    bool
		existsErr error
		want      bool
	}{
		{"visiteur connu", true, nil, false},
		{"visiteur inconnu", false, nil, true},
		{"oracle en erreur", true, errors.New("timeout"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			storage := NewMemoryStorage()
			require.NoError(t, storage.Set(IdentityKey, "existing-id"))
			tr := &fakeTransport{exists: tt.exists, existsErr: tt.existsErr}
			r, _ := newTestReporter(t, storage, tr)

			require.NoError(t, r.Start(ctx))
			assert.Equal(t, 1, tr.existsCalls)
			delivered := tr.deliveredCopy()
			require.Len(t, delivered, 1)
			assert.Equal(t, "existing-id", delivered[0].UUID)
			assert.Equal(t, tt.want, delivered[0].NovoVisitante)
		})
	}
}

func TestReporterTicksSendDeltas(t *testing.T) {
	ctx := testContext(t)
	tr := &fakeTransport{}
	r, clock := newTestReporter(t, NewMemoryStorage(), tr)

	require.NoError(t, r.Start(ctx))
	r.RecordClick(link)
	r.RecordClick(&Element{Tag: "P"})

	clock.Advance(DefaultInterval).MustWait(ctx)
	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 2)
	assert.Equal(t, int64(2), delivered[1].TotalCliques)
	assert.Equal(t, int64(1), delivered[1].CliquesElementosClicaveis)
	assert.Equal(t, int64(30), delivered[1].DuracaoSessao)

	// rien de neuf hormis la durée
	clock.Advance(DefaultInterval).MustWait(ctx)
	delivered = tr.deliveredCopy()
	require.Len(t, delivered, 3)
	assert.Equal(t, int64(0), delivered[2].TotalCliques)
	assert.Equal(t, int64(30), delivered[2].DuracaoSessao)

	clicks, clickable, duration := sum(delivered)
	snap := r.Snapshot()
	assert.Equal(t, snap.TotalClicks, clicks)
	assert.Equal(t, snap.ClickableClicks, clickable)
	assert.Equal(t, snap.DurationSeconds, duration)
}

func TestReporterFailedSendIsRetried(t *testing.T) {
	ctx := testContext(t)
	tr := &fakeTransport{}
	r, clock := newTestReporter(t, NewMemoryStorage(), tr)

	tr.setFailing(true)
	require.NoError(t, r.Start(ctx))
	r.RecordClick(link)

	clock.Advance(DefaultInterval).MustWait(ctx)
	assert.Empty(t, tr.deliveredCopy())

	tr.setFailing(false)
	r.RecordClick(link)
	clock.Advance(DefaultInterval).MustWait(ctx)

	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 1)
	// le drapeau n'a pas été remis à zéro par les échecs
	assert.True(t, delivered[0].NovoVisitante)
	assert.Equal(t, int64(2), delivered[0].TotalCliques)
	assert.Equal(t, int64(60), delivered[0].DuracaoSessao)
	assert.Len(t, tr.attempts, 3)
}

func TestReporterStop(t *testing.T) {
	ctx := testContext(t)
	tr := &fakeTransport{}
	r, clock := newTestReporter(t, NewMemoryStorage(), tr)

	require.NoError(t, r.Start(ctx))
	clock.Advance(10 * time.Second)
	r.RecordClick(link)

	require.NoError(t, r.Stop(ctx))
	assert.Equal(t, StateStopped, r.State())

	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 2)
	assert.Equal(t, int64(1), delivered[1].TotalCliques)
	assert.Equal(t, int64(10), delivered[1].DuracaoSessao)

	// plus de ticks ni de clics après l'arrêt
	clock.Advance(DefaultInterval).MustWait(ctx)
	r.RecordClick(link)
	assert.Len(t, tr.deliveredCopy(), 2)
	assert.Equal(t, int64(1), r.Snapshot().TotalClicks)

	assert.ErrorIs(t, r.Start(ctx), ErrStopped)
	require.NoError(t, r.Stop(ctx))
}

func TestReporterPageLifecycle(t *testing.T) {
	ctx := testContext(t)
	tr := &fakeTransport{}
	r, clock := newTestReporter(t, NewMemoryStorage(), tr)

	// inactif: rien ne part
	r.PageUnload()
	require.NoError(t, r.PageHidden(ctx))
	assert.Empty(t, tr.attempts)

	require.NoError(t, r.Start(ctx))
	clock.Advance(5 * time.Second)
	r.RecordClick(link)
	require.NoError(t, r.PageHidden(ctx))

	clock.Advance(3 * time.Second)
	r.RecordClick(link)
	r.PageUnload()

	require.Len(t, tr.beacons, 1)
	assert.Equal(t, int64(1), tr.beacons[0].TotalCliques)
	assert.Equal(t, int64(3), tr.beacons[0].DuracaoSessao)

	// le beacon est considéré livré
	require.NoError(t, r.Flush(ctx))
	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 3)
	assert.Equal(t, int64(0), delivered[2].TotalCliques)
	assert.Equal(t, int64(0), delivered[2].DuracaoSessao)
}

func TestReporterStartWithConsent(t *testing.T) {
	ctx := testContext(t)
	storage := NewMemoryStorage()
	tr := &fakeTransport{}
	r, clock := newTestReporter(t, storage, tr)

	started, err := r.StartWithConsent(ctx)
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, StateIdle, r.State())
	_, ok, _ := storage.Get(IdentityKey)
	assert.False(t, ok)

	require.NoError(t, GrantConsent(storage, clock.Now()))
	started, err = r.StartWithConsent(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	assert.Len(t, tr.deliveredCopy(), 1)
	require.NoError(t, r.Stop(ctx))
}

// blockingTransport retient Exists jusqu'à release
type blockingTransport struct {
	*fakeTransport
	called  chan struct{}
	release chan struct{}
}

func (b *blockingTransport) Exists(ctx context.Context, id string) (bool, error) {
	close(b.called)
	<-b.release
	return b.fakeTransport.Exists(ctx, id)
}

func TestReporterStartDoesNotBlockDuringOracle(t *testing.T) {
	ctx := testContext(t)
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(IdentityKey, "existing-id"))
	tr := &blockingTransport{
		fakeTransport: &fakeTransport{exists: true},
		called:        make(chan struct{}),
		release:       make(chan struct{}),
	}
	r, _ := newTestReporter(t, storage, tr)

	started := make(chan error, 1)
	go func() { started <- r.Start(ctx) }()
	<-tr.called

	done := make(chan State, 1)
	go func() {
		r.PageUnload()
		r.RecordClick(link)
		done <- r.State()
	}()
	select {
	case state := <-done:
		assert.Equal(t, StateStarting, state)
	case <-time.After(time.Second):
		close(tr.release)
		t.Fatal("beacon et clic bloqués par l'oracle")
	}

	close(tr.release)
	require.NoError(t, <-started)
	assert.Equal(t, StateActive, r.State())
	assert.Empty(t, tr.beacons)

	delivered := tr.deliveredCopy()
	require.Len(t, delivered, 1)
	assert.False(t, delivered[0].NovoVisitante)
	assert.Equal(t, int64(0), delivered[0].TotalCliques)
}

func TestReporterStopDuringStart(t *testing.T) {
	ctx := testContext(t)
	storage := NewMemoryStorage()
	require.NoError(t, storage.Set(IdentityKey, "existing-id"))
	tr := &blockingTransport{
		fakeTransport: &fakeTransport{exists: true},
		called:        make(chan struct{}),
		release:       make(chan struct{}),
	}
	r, _ := newTestReporter(t, storage, tr)

	started := make(chan error, 1)
	go func() { started <- r.Start(ctx) }()
	<-tr.called

	require.NoError(t, r.Stop(ctx))
	close(tr.release)
	assert.ErrorIs(t, <-started, ErrStopped)
	assert.Equal(t, StateStopped, r.State())
	assert.Empty(t, tr.deliveredCopy())
}
