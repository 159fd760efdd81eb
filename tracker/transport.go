package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultBeaconTimeout = 5 * time.Second
)

// Result est la réponse de /register. Created est la décision du serveur.
type Result struct {
	VisitorID uint
	Created   bool
}

type Transport interface {
	// Exists interroge /verify, à titre indicatif seulement
	Exists(ctx context.Context, uuid string) (bool, error)
	Send(ctx context.Context, report Report) (Result, error)
	// Beacon part en arrière-plan, sans attente ni annulation ni erreur
	Beacon(report Report)
}

// StatusError est renvoyée quand le serveur répond hors 2xx
type StatusError struct {
	StatusCode int
	Message    string
	Details    string
}

func (e *StatusError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("http %d: %s (%s)", e.StatusCode, e.Message, e.Details)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type HTTPTransport struct {
	BaseURL       string
	Client        *http.Client
	BeaconTimeout time.Duration
	Logger        zerolog.Logger

	wg sync.WaitGroup
}

func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Client:        &http.Client{Timeout: defaultTimeout},
		BeaconTimeout: defaultBeaconTimeout,
		Logger:        log.Logger.With().Str("component", "tracker").Logger(),
	}
}

func (t *HTTPTransport) Exists(ctx context.Context, uuid string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/verify?uuid="+url.QueryEscape(uuid), nil)
	if err != nil {
		return false, err
	}

	var out struct {
		Success bool `json:"success"`
		Existe  bool `json:"existe"`
	}
	if err := t.do(req, &out); err != nil {
		return false, err
	}
	return out.Existe, nil
}

func (t *HTTPTransport) Send(ctx context.Context, report Report) (Result, error) {
	req, err := t.newRegisterRequest(ctx, report)
	if err != nil {
		return Result{}, err
	}

	var out struct {
		Success       bool `json:"success"`
		VisitanteID   uint `json:"visitante_id"`
		NovoVisitante bool `json:"novo_visitante"`
	}
	if err := t.do(req, &out); err != nil {
		return Result{}, err
	}
	return Result{VisitorID: out.VisitanteID, Created: out.NovoVisitante}, nil
}

func (t *HTTPTransport) Beacon(report Report) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), t.BeaconTimeout)
		defer cancel()

		req, err := t.newRegisterRequest(ctx, report)
		if err == nil {
			err = t.do(req, nil)
		}
		if err != nil {
			t.Logger.Debug().Err(err).Str("uuid", report.UUID).Msg("beacon perdu")
		}
	}()
}

// Wait attend les beacons partis, utile avant la sortie du process
func (t *HTTPTransport) Wait() {
	t.wg.Wait()
}

func (t *HTTPTransport) newRegisterRequest(ctx context.Context, report Report) (*http.Request, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Erro     string `json:"erro"`
			Detalhes string `json:"detalhes"`
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Erro == "" {
			apiErr.Erro = http.StatusText(resp.StatusCode)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Erro, Details: apiErr.Detalhes}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("réponse invalide: %w", err)
	}
	return nil
}
