package tracker

import (
	"net/url"
)

// Report est le corps JSON envoyé à /register
type Report struct {
	UUID                      string `json:"uuid"`
	NovoVisitante             bool   `json:"novo_visitante"`
	DimensaoTela              string `json:"dimensao_tela"`
	Referrer                  string `json:"referrer"`
	TotalCliques              int64  `json:"total_cliques"`
	CliquesElementosClicaveis int64  `json:"cliques_elementos_clicaveis"`
	DuracaoSessao             int64  `json:"duracao_sessao"`
	UTMSource                 string `json:"utm_source"`
	UTMMedium                 string `json:"utm_medium"`
	UTMCampaign               string `json:"utm_campaign"`
	UTMContent                string `json:"utm_content"`
	UTMTerm                   string `json:"utm_term"`
	Navegador                 string `json:"navegador,omitempty"`
	SistemaOperacional        string `json:"sistema_operacional,omitempty"`
	MarcaDispositivo          string `json:"marca_dispositivo,omitempty"`
	Movel                     *bool  `json:"movel,omitempty"`
}

// Page décrit le contexte de la page, recopié tel quel dans chaque rapport
type Page struct {
	URL        string
	ScreenSize string
	Referrer   string

	// optionnels, le serveur les déduit du User-Agent sinon
	Browser string
	OS      string
	Brand   string
	Mobile  *bool
}

type UTM struct {
	Source   string
	Medium   string
	Campaign string
	Content  string
	Term     string
}

// ParseUTM lit les paramètres utm_* de l'url, vides si absents
func ParseUTM(pageURL string) UTM {
	u, err := url.Parse(pageURL)
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Content:  q.Get("utm_content"),
		Term:     q.Get("utm_term"),
	}
}

func buildReport(uuid string, delta Snapshot, page Page) Report {
	utm := ParseUTM(page.URL)
	return Report{
		UUID:                      uuid,
		NovoVisitante:             delta.NewVisitor,
		DimensaoTela:              page.ScreenSize,
		Referrer:                  page.Referrer,
		TotalCliques:              delta.TotalClicks,
		CliquesElementosClicaveis: delta.ClickableClicks,
		DuracaoSessao:             delta.DurationSeconds,
		UTMSource:                 utm.Source,
		UTMMedium:                 utm.Medium,
		UTMCampaign:               utm.Campaign,
		UTMContent:                utm.Content,
		UTMTerm:                   utm.Term,
		Navegador:                 page.Browser,
		SistemaOperacional:        page.OS,
		MarcaDispositivo:          page.Brand,
		Movel:                     page.Mobile,
	}
}
