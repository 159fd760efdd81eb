package lpnotify

import (
	"context"
	"errors"
	"time"
)

// Event décrit un visiteur dont la ligne vient d'être créée
type Event struct {
	ID                 uint      `json:"visitante_id"`
	UUID               string    `json:"uuid"`
	IP                 string    `json:"ip"`
	Provedor           string    `json:"provedor"`
	Cidade             string    `json:"cidade"`
	Estado             string    `json:"estado"`
	Pais               string    `json:"pais"`
	Navegador          string    `json:"web_browser"`
	SistemaOperacional string    `json:"sistema_operacional"`
	MarcaDispositivo   string    `json:"marca_dispositivo"`
	Movel              bool      `json:"movel"`
	DuracaoSessao      int64     `json:"duracao_sessao"`
	Referrer           string    `json:"referrer"`
	UtmSource          string    `json:"utm_source,omitempty"`
	UtmMedium          string    `json:"utm_medium,omitempty"`
	UtmCampaign        string    `json:"utm_campaign,omitempty"`
	UtmContent         string    `json:"utm_content,omitempty"`
	UtmTerm            string    `json:"utm_term,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Multi diffuse vers chaque notifier, un échec n'empêche pas les suivants
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
