package main

import (
	"bytes"
	"context"
	"encoding/json"
	"leadpulse/internal/models/lpapp"
	"leadpulse/internal/models/lpconfig"
	"leadpulse/internal/models/lpvisitors"
	"leadpulse/tracker"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andskur/argon2-hashing"
	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============= Setup =============

func HashPassword(pass string) (string, error) {
	hash, err := argon2.GenerateFromPassword([]byte(pass), argon2.DefaultParams)
	return string(hash), err
}

func setupTestConfig(t *testing.T) *lpconfig.Config {
	hash, err := HashPassword("password123")
	require.NoError(t, err)

	conf := &lpconfig.Config{
		Database: lpconfig.DatabaseConfig{
			Db:   "sqlite",
			Path: filepath.Join(t.TempDir(), "leadpulse.db"),
		},
		User:   lpconfig.UserConfig{Login: "admin", Hash: hash},
		Logger: lpconfig.LoggerConfig{Level: "error"},
		Cors: lpconfig.CorsConfig{
			AllowedOrigins: []string{"https://agenciam2a.com.br"},
		},
		Production: true,
	}
	require.NoError(t, lpconfig.Validate(conf))
	return conf
}

func setupTestServer(t *testing.T) (*httptest.Server, *lpapp.App) {
	gin.SetMode(gin.TestMode)
	conf := setupTestConfig(t)

	app, err := lpapp.Init(context.Background(), conf, VERSION, "test")
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	r := newServer(conf)
	setRoutes(r, app)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, app
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func postJSON(t *testing.T, url string, payload string) (int, map[string]any) {
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// ============= Configuration =============

func TestLoadConfiguration(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "leadpulse.yaml")
	_, err := lpconfig.CreateExampleConfig(configFile)
	require.NoError(t, err)

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DB_DSN=user:pass@tcp(localhost)/leadpulse\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("DB_DSN") })

	conf, err := loadConfiguration(configFile, envFile)
	require.NoError(t, err)
	assert.Equal(t, "user:pass@tcp(localhost)/leadpulse", conf.Database.Dsn)
	assert.Empty(t, conf.User.Pass)
	assert.NotEmpty(t, conf.User.Hash)
	assert.Equal(t, lpconfig.DefaultRateLimit, conf.Tracking.RateLimit)

	_, err = loadConfiguration(filepath.Join(dir, "absent.yaml"), "")
	assert.Error(t, err)
}

// ============= Protocole =============

func TestVerifyRegisterScenario(t *testing.T) {
	srv, app := setupTestServer(t)

	status, body := getJSON(t, srv.URL+"/verify?uuid=X")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["existe"])

	status, body = postJSON(t, srv.URL+"/register", `{"uuid":"X","novo_visitante":true,"total_cliques":5,"duracao_sessao":10}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["novo_visitante"])
	id := body["visitante_id"]

	status, body = postJSON(t, srv.URL+"/api/registrar-visitante", `{"uuid":"X","novo_visitante":false,"total_cliques":3,"duracao_sessao":20}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["novo_visitante"])
	assert.Equal(t, id, body["visitante_id"])

	status, body = getJSON(t, srv.URL+"/api/verificar-visitante?uuid=X")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["existe"])

	app.Visitors.Wait()
	v, err := lpvisitors.NewRepository(app.Db).Get(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, int64(8), v.TotalCliques)
	assert.Equal(t, int64(30), v.DuracaoSessao)
}

func TestRegisterErrors(t *testing.T) {
	srv, app := setupTestServer(t)

	status, body := postJSON(t, srv.URL+"/register", `{"total_cliques":5}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["erro"])

	status, _ = postJSON(t, srv.URL+"/register", `{"uuid":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = getJSON(t, srv.URL+"/verify")
	assert.Equal(t, http.StatusBadRequest, status)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/register", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	var count int64
	require.NoError(t, app.Db.Model(&lpvisitors.Visitor{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)

	for origin, want := range map[string]string{
		"https://agenciam2a.com.br": "https://agenciam2a.com.br",
		"https://evil.example":      lpconfig.DefaultOrigin,
	} {
		req, err := http.NewRequest(http.MethodOptions, srv.URL+"/register", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, want, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Origin", resp.Header.Get("Vary"))
	}
}

func TestAdminStats(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/admin/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	postJSON(t, srv.URL+"/register", `{"uuid":"Y","total_cliques":2}`)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/stats", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "password123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// redis absent
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/admin/stats/realtime", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "password123")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

// ============= Client de bout en bout =============

func TestTrackerAgainstServer(t *testing.T) {
	srv, app := setupTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	storage := tracker.NewMemoryStorage()
	require.NoError(t, tracker.GrantConsent(storage, time.Now()))

	transport := tracker.NewHTTPTransport(srv.URL)
	transport.Logger = zerolog.Nop()
	clock := quartz.NewMock(t)
	body := &tracker.Element{Tag: "BODY"}

	// premier chargement de page
	r := tracker.NewReporter(storage, transport, tracker.WithClock(clock), tracker.WithLogger(zerolog.Nop()))
	started, err := r.StartWithConsent(ctx)
	require.NoError(t, err)
	require.True(t, started)

	r.RecordClick(&tracker.Element{Tag: "BUTTON", Parent: body})
	r.RecordClick(&tracker.Element{Tag: "P", Parent: body})
	clock.Advance(tracker.DefaultInterval).MustWait(ctx)
	r.RecordClick(&tracker.Element{Tag: "A", Parent: body})
	clock.Advance(5 * time.Second)
	require.NoError(t, r.Stop(ctx))

	// second chargement, même stockage
	r2 := tracker.NewReporter(storage, transport, tracker.WithClock(clock), tracker.WithLogger(zerolog.Nop()))
	require.NoError(t, r2.Start(ctx))
	assert.Equal(t, r.UUID(), r2.UUID())
	clock.Advance(7 * time.Second)
	r2.PageUnload()
	transport.Wait()

	app.Visitors.Wait()
	v, err := lpvisitors.NewRepository(app.Db).Get(ctx, r.UUID())
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.TotalCliques)
	assert.Equal(t, int64(2), v.CliquesElementosClicaveis)
	assert.Equal(t, int64(35+7), v.DuracaoSessao)
	assert.True(t, v.NovoVisitante)

	var count int64
	require.NoError(t, app.Db.Model(&lpvisitors.Visitor{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
