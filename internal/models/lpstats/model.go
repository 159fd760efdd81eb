package lpstats

import "time"

// DailyStat est le cumul d'une journée, recalculé par le cron
type DailyStat struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	Date           string    `gorm:"size:10;uniqueIndex;not null" json:"date"`
	NewVisitors    int64     `json:"new_visitors"`
	ActiveVisitors int64     `json:"active_visitors"`
	MobileVisitors int64     `json:"mobile_visitors"`
	UpdatedAt      time.Time `json:"-"`
}

func (DailyStat) TableName() string {
	return "daily_stats"
}

type Stats30Days struct {
	ActiveVisitors      int64          `json:"active_visitors"`
	NewVisitors         int64          `json:"new_visitors"`
	TotalClicks         int64          `json:"total_cliques"`
	ClickableClicks     int64          `json:"cliques_elementos_clicaveis"`
	TotalSessionSeconds int64          `json:"duracao_sessao"`
	AvgSessionSeconds   float64        `json:"duracao_media"`
	TopReferrers        []ReferrerStat `json:"top_referrers"`
	TopSources          []SourceStat   `json:"top_utm_source"`
	Browsers            []LabelStat    `json:"browsers"`
	Systems             []LabelStat    `json:"systems"`
	Mobile              int64          `json:"mobile"`
	DailyStats          []DailyStat    `json:"daily_stats"`
}

type ReferrerStat struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

type SourceStat struct {
	Source string `json:"utm_source"`
	Count  int64  `json:"count"`
}

type LabelStat struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}
