package lpvisitors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const (
	msgUUIDRequired    = "UUID é obrigatório"
	msgVisitorRequired = "Identificador de visitante (UUID) é obrigatório"
	msgInvalidPayload  = "Formato de dados inválido"
	msgVerifyFailed    = "Erro ao verificar visitante"
	msgSaveFailed      = "Erro ao salvar os dados do visitante"

	maxUUIDLen    = 64
	maxShortLen   = 20
	maxLabelLen   = 64
	maxDefaultLen = 255
	maxURLLen     = 2048

	// plafond par rapport, une page ouverte un mois reste en dessous
	maxCounter = math.MaxInt32
)

var (
	policy = bluemonday.StrictPolicy()

	errMissingUUID = errors.New("campo uuid ausente ou vazio")
)

type UTM struct {
	Source   string
	Medium   string
	Campaign string
	Content  string
	Term     string
}

// Report est un rapport de session validé. Les compteurs sont des deltas
// à additionner aux totaux stockés.
type Report struct {
	UUID                      string
	NovoVisitante             bool
	DimensaoTela              string
	Referrer                  string
	TotalCliques              int64
	CliquesElementosClicaveis int64
	DuracaoSessao             int64
	UTM                       UTM

	// vides quand le client ne les envoie pas, déduits du User-Agent
	Navegador          string
	SistemaOperacional string
	MarcaDispositivo   string
	Movel              *bool
}

// ParseReport valide le corps JSON de /register
func ParseReport(body []byte) (Report, error) {
	var raw map[string]any

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Report{}, validation(msgInvalidPayload, err)
	}
	// un seul objet, rien derrière hormis des blancs
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Report{}, validation(msgInvalidPayload, fmt.Errorf("données après l'objet JSON"))
	}
	if raw == nil {
		return Report{}, validation(msgInvalidPayload, fmt.Errorf("objet JSON attendu"))
	}

	r := Report{
		UUID:                      sanitize(raw["uuid"], maxUUIDLen),
		NovoVisitante:             truthy(raw["novo_visitante"]),
		DimensaoTela:              sanitize(raw["dimensao_tela"], maxShortLen),
		Referrer:                  sanitize(raw["referrer"], maxURLLen),
		TotalCliques:              counter(raw["total_cliques"]),
		CliquesElementosClicaveis: counter(raw["cliques_elementos_clicaveis"]),
		DuracaoSessao:             counter(raw["duracao_sessao"]),
		UTM: UTM{
			Source:   sanitize(raw["utm_source"], maxDefaultLen),
			Medium:   sanitize(raw["utm_medium"], maxDefaultLen),
			Campaign: sanitize(raw["utm_campaign"], maxDefaultLen),
			Content:  sanitize(raw["utm_content"], maxDefaultLen),
			Term:     sanitize(raw["utm_term"], maxDefaultLen),
		},
		Navegador:          sanitize(raw["navegador"], maxLabelLen),
		SistemaOperacional: sanitize(raw["sistema_operacional"], maxLabelLen),
		MarcaDispositivo:   sanitize(raw["marca_dispositivo"], maxLabelLen),
	}
	if v, ok := raw["movel"]; ok && v != nil {
		m := truthy(v)
		r.Movel = &m
	}

	if r.UUID == "" {
		return Report{}, validation(msgVisitorRequired, errMissingUUID)
	}
	if r.CliquesElementosClicaveis > r.TotalCliques {
		r.CliquesElementosClicaveis = r.TotalCliques
	}
	return r, nil
}

// ParseUUID nettoie l'identifiant reçu par /verify
func ParseUUID(raw string) (string, error) {
	uuid := SanitizeString(raw, maxUUIDLen)
	if uuid == "" {
		return "", validation(msgUUIDRequired, nil)
	}
	return uuid, nil
}

// SanitizeString retire le HTML, échappe le reste et tronque à max runes
func SanitizeString(s string, max int) string {
	s = policy.Sanitize(strings.TrimSpace(s))
	s = strings.TrimSpace(s)
	if max > 0 {
		if runes := []rune(s); len(runes) > max {
			s = string(runes[:max])
		}
	}
	return s
}

func sanitize(v any, max int) string {
	switch t := v.(type) {
	case string:
		return SanitizeString(t, max)
	case json.Number:
		return SanitizeString(t.String(), max)
	default:
		return ""
	}
}

// truthy suit la notion de valeur "non vide" des clients historiques:
// false, 0, "", "0", null et les collections vides sont faux.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		return t != "" && t != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return false
	}
}

// counter ramène toute valeur à un entier positif borné, 0 sinon
func counter(v any) int64 {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			f = float64(i)
		} else if x, err := t.Float64(); err == nil {
			f = x
		}
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = x
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return 0
	}

	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= maxCounter:
		return maxCounter
	default:
		return int64(f)
	}
}
