package lpnotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	discordColor  = 14032980 // #D62454
	discordTitle  = "🌐 Novo Visitante Registrado"
	discordAgent  = "AgenciaM2A/1.0"
	footerLayout  = "02/01/2006 15:04:05"
	defaultRetry  = 2
	retryInterval = 500 * time.Millisecond
)

type DiscordMessage struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []DiscordField `json:"fields"`
	Footer DiscordFooter  `json:"footer"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type DiscordFooter struct {
	Text string `json:"text"`
}

type Discord struct {
	WebhookURL string
	Username   string
	AvatarURL  string
	Location   *time.Location
	Client     *http.Client

	// nouvelles tentatives sur 429 et 5xx
	MaxRetries    uint64
	RetryInterval time.Duration
}

func NewDiscord(webhookURL, username, avatarURL, timezone string) *Discord {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.Local
	}
	return &Discord{
		WebhookURL:    webhookURL,
		Username:      username,
		AvatarURL:     avatarURL,
		Location:      loc,
		Client:        &http.Client{Timeout: 5 * time.Second},
		MaxRetries:    defaultRetry,
		RetryInterval: retryInterval,
	}
}

func (d *Discord) BuildMessage(e Event) DiscordMessage {
	origin := "Direto"
	if e.Referrer != "" {
		origin = fmt.Sprintf("[Link](%s)", e.Referrer)
	}

	fields := []DiscordField{
		{Name: "🆔 UUID", Value: "`" + e.UUID + "`"},
		{Name: "📍 Localização", Value: fmt.Sprintf("%s, %s, %s", e.Cidade, e.Estado, e.Pais), Inline: true},
		{Name: "📡 IP e Provedor", Value: fmt.Sprintf("`%s`\n%s", e.IP, e.Provedor), Inline: true},
		{Name: "💻 Dispositivo", Value: fmt.Sprintf("%s (%s)", e.MarcaDispositivo, e.SistemaOperacional), Inline: true},
		{Name: "🌐 Navegador", Value: e.Navegador, Inline: true},
		{Name: "⏱️ Duração Sessão", Value: fmt.Sprintf("%d segundos", e.DuracaoSessao), Inline: true},
		{Name: "🔗 Origem", Value: origin, Inline: true},
	}

	for _, utm := range []struct{ name, value string }{
		{"source", e.UtmSource},
		{"medium", e.UtmMedium},
		{"campaign", e.UtmCampaign},
		{"content", e.UtmContent},
		{"term", e.UtmTerm},
	} {
		if utm.value != "" {
			fields = append(fields, DiscordField{Name: "UTM " + utm.name, Value: utm.value, Inline: true})
		}
	}

	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if d.Location != nil {
		at = at.In(d.Location)
	}

	return DiscordMessage{
		Username:  d.Username,
		AvatarURL: d.AvatarURL,
		Embeds: []DiscordEmbed{{
			Title:  discordTitle,
			Color:  discordColor,
			Fields: fields,
			Footer: DiscordFooter{Text: "Registrado em: " + at.Format(footerLayout)},
		}},
	}
}

func (d *Discord) Notify(ctx context.Context, e Event) error {
	if d.WebhookURL == "" {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.BuildMessage(e)); err != nil {
		return err
	}
	payload := buf.Bytes()

	eb := backoff.NewExponentialBackOff()
	if d.RetryInterval > 0 {
		eb.InitialInterval = d.RetryInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, d.MaxRetries), ctx)

	return backoff.Retry(func() error {
		return d.post(ctx, payload)
	}, b)
}

func (d *Discord) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", discordAgent)

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook discord: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("webhook discord: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}
