package handlers_visitors

import (
	"context"
	"encoding/json"
	"leadpulse/internal/lpmiddleware"
	"leadpulse/internal/models/lpnotify"
	"leadpulse/internal/models/lpvisitors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) Notify(context.Context, lpnotify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return nil
}

type testEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	service  *lpvisitors.Service
	notifier *countingNotifier
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := lpvisitors.NewRepository(db)
	require.NoError(t, repo.Migrate())

	notifier := &countingNotifier{}
	service := lpvisitors.NewService(repo, lpvisitors.WithNotifier(notifier))
	h := NewVisitorsHandler(service)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(lpmiddleware.CORS(lpmiddleware.CORSConfig{
		AllowedOrigins: []string{"https://agenciam2a.com.br", "https://agenciam2a.net"},
		DefaultOrigin:  "https://agenciam2a.com.br",
	}))
	r.NoRoute(NotFound)
	r.NoMethod(MethodNotAllowed)
	r.GET("/verify", h.Verify)
	r.POST("/register", h.Register)

	return &testEnv{router: r, db: db, service: service, notifier: notifier}
}

func (e *testEnv) do(method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Origin", "https://agenciam2a.net")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var payload map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &payload)
	return w, payload
}

func (e *testEnv) rows(t *testing.T) int64 {
	var count int64
	require.NoError(t, e.db.Model(&lpvisitors.Visitor{}).Count(&count).Error)
	return count
}

func TestVisitorScenario(t *testing.T) {
	env := setupTestEnv(t)

	w, body := env.do(http.MethodGet, "/verify?uuid=X", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["existe"])
	assert.Equal(t, "https://agenciam2a.net", w.Header().Get("Access-Control-Allow-Origin"))

	w, body = env.do(http.MethodPost, "/register", `{"uuid":"X","total_cliques":5,"duracao_sessao":10,"novo_visitante":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["novo_visitante"])
	firstID := body["visitante_id"]
	assert.NotZero(t, firstID)

	w, body = env.do(http.MethodPost, "/register", `{"uuid":"X","total_cliques":3,"duracao_sessao":20}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["novo_visitante"])
	assert.Equal(t, firstID, body["visitante_id"])

	env.service.Wait()
	assert.Equal(t, 1, env.notifier.calls)

	var v lpvisitors.Visitor
	require.NoError(t, env.db.Where("uuid = ?", "X").First(&v).Error)
	assert.Equal(t, int64(8), v.TotalCliques)
	assert.Equal(t, int64(30), v.DuracaoSessao)

	_, body = env.do(http.MethodGet, "/verify?uuid=X", "")
	assert.Equal(t, true, body["existe"])
}

func TestVerifyMissingUUID(t *testing.T) {
	env := setupTestEnv(t)

	for _, target := range []string{"/verify", "/verify?uuid=", "/verify?uuid=%20%20"} {
		w, body := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "UUID é obrigatório", body["erro"], target)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body string
		erro string
	}{
		{"sans uuid", `{"total_cliques":5}`, "Identificador de visitante (UUID) é obrigatório"},
		{"uuid vide", `{"uuid":""}`, "Identificador de visitante (UUID) é obrigatório"},
		{"json invalide", `{"uuid":"X",`, "Formato de dados inválido"},
		{"pas un objet", `"X"`, "Formato de dados inválido"},
		{"données après l'objet", `{"uuid":"X","total_cliques":5} garbage`, "Formato de dados inválido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := env.do(http.MethodPost, "/register", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.erro, body["erro"])
			assert.NotEmpty(t, body["detalhes"])
		})
	}

	assert.Zero(t, env.rows(t))
	env.service.Wait()
	assert.Zero(t, env.notifier.calls)
}

func TestRegisterBodyTooLarge(t *testing.T) {
	env := setupTestEnv(t)

	big := `{"uuid":"X","referrer":"` + strings.Repeat("a", maxBodySize) + `"}`
	w, _ := env.do(http.MethodPost, "/register", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.rows(t))
}

func TestPersistenceFailure(t *testing.T) {
	env := setupTestEnv(t)
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, body := env.do(http.MethodPost, "/register", `{"uuid":"X","total_cliques":1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Erro ao salvar os dados do visitante", body["erro"])
	assert.NotEmpty(t, body["detalhes"])

	w, body = env.do(http.MethodGet, "/verify?uuid=X", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Erro ao verificar visitante", body["erro"])
	assert.NotEmpty(t, body["detalhes"])
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)

	w, body := env.do(http.MethodPut, "/register", `{"uuid":"X"}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Método não permitido", body["erro"])

	w, _ = env.do(http.MethodGet, "/inconnu", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreflight(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := env.do(http.MethodOptions, "/register", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "https://agenciam2a.net", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, env.rows(t))
}
