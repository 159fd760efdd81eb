package lpvisitors

import "time"

// Visitor est la ligne cumulée d'un visiteur, une par uuid
type Visitor struct {
	ID                        uint   `gorm:"primaryKey" json:"id"`
	UUID                      string `gorm:"column:uuid;size:64;uniqueIndex;not null" json:"uuid"`
	NovoVisitante             bool   `json:"novo_visitante"`
	IP                        string `gorm:"column:ip;size:45" json:"ip"`
	Provedor                  string `gorm:"size:255" json:"provedor"`
	Cidade                    string `gorm:"size:128" json:"cidade"`
	Estado                    string `gorm:"size:128" json:"estado"`
	Pais                      string `gorm:"size:128" json:"pais"`
	Navegador                 string `gorm:"column:web_browser;size:64" json:"web_browser"`
	SistemaOperacional        string `gorm:"size:64" json:"sistema_operacional"`
	MarcaDispositivo          string `gorm:"size:64" json:"marca_dispositivo"`
	Movel                     bool   `json:"movel"`
	DimensaoTela              string `gorm:"size:20" json:"dimensao_tela"`
	Referrer                  string `gorm:"size:2048" json:"referrer"`
	UtmSource                 string `gorm:"size:255;index" json:"utm_source"`
	UtmMedium                 string `gorm:"size:255" json:"utm_medium"`
	UtmCampaign               string `gorm:"size:255" json:"utm_campaign"`
	UtmContent                string `gorm:"size:255" json:"utm_content"`
	UtmTerm                   string `gorm:"size:255" json:"utm_term"`
	TotalCliques              int64  `json:"total_cliques"`
	CliquesElementosClicaveis int64  `json:"cliques_elementos_clicaveis"`
	DuracaoSessao             int64  `json:"duracao_sessao"`
	// nombre de rapports fusionnés, 1 juste après la création
	Reports   int64     `json:"reports"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Visitor) TableName() string {
	return "visitantes_website"
}
