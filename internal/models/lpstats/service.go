package lpstats

import (
	"context"
	"errors"
	"fmt"
	"leadpulse/internal/lpredis"
	"leadpulse/internal/models/lpvisitors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrRealtimeDisabled = errors.New("redis non configuré")

type RealtimeSource interface {
	Realtime(ctx context.Context) (lpredis.Realtime, error)
}

type StatsService struct {
	db       *gorm.DB
	realtime RealtimeSource
	cron     *cron.Cron
	now      func() time.Time
}

// NewStatsService accepte un realtime nil quand redis est absent
func NewStatsService(db *gorm.DB, realtime RealtimeSource) *StatsService {
	return &StatsService{
		db:       db,
		realtime: realtime,
		now:      time.Now,
	}
}

func (s *StatsService) Migrate() error {
	return s.db.AutoMigrate(&DailyStat{})
}

// GetStats30Days agrège les visiteurs actifs sur les 30 derniers jours
func (s *StatsService) GetStats30Days(ctx context.Context) (*Stats30Days, error) {
	since := s.now().AddDate(0, 0, -30)
	db := s.db.WithContext(ctx)
	active := func() *gorm.DB {
		return db.Model(&lpvisitors.Visitor{}).Where("updated_at >= ?", since)
	}

	stats := &Stats30Days{}

	var totals struct {
		Visitors  int64
		Clicks    int64
		Clickable int64
		Duration  int64
		Mobile    int64
	}
	err := active().
		Select("COUNT(*) as visitors, " +
			"COALESCE(SUM(total_cliques), 0) as clicks, " +
			"COALESCE(SUM(cliques_elementos_clicaveis), 0) as clickable, " +
			"COALESCE(SUM(duracao_sessao), 0) as duration, " +
			"COALESCE(SUM(CASE WHEN movel THEN 1 ELSE 0 END), 0) as mobile").
		Scan(&totals).Error
	if err != nil {
		return nil, fmt.Errorf("error computing totals: %w", err)
	}
	stats.ActiveVisitors = totals.Visitors
	stats.TotalClicks = totals.Clicks
	stats.ClickableClicks = totals.Clickable
	stats.TotalSessionSeconds = totals.Duration
	stats.Mobile = totals.Mobile
	if totals.Visitors > 0 {
		stats.AvgSessionSeconds = float64(totals.Duration) / float64(totals.Visitors)
	}

	err = db.Model(&lpvisitors.Visitor{}).
		Where("created_at >= ?", since).
		Count(&stats.NewVisitors).Error
	if err != nil {
		return nil, fmt.Errorf("error counting new visitors: %w", err)
	}

	err = active().
		Select("referrer, COUNT(*) as count").
		Where("referrer != ''").
		Group("referrer").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TopReferrers).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top referrers: %w", err)
	}

	err = active().
		Select("utm_source as source, COUNT(*) as count").
		Where("utm_source != ''").
		Group("utm_source").
		Order("count DESC").
		Limit(10).
		Scan(&stats.TopSources).Error
	if err != nil {
		return nil, fmt.Errorf("error getting top sources: %w", err)
	}

	if stats.Browsers, err = s.topLabels(active(), "web_browser"); err != nil {
		return nil, err
	}
	if stats.Systems, err = s.topLabels(active(), "sistema_operacional"); err != nil {
		return nil, err
	}

	err = db.Where("date >= ?", since.Format(time.DateOnly)).
		Order("date ASC").
		Find(&stats.DailyStats).Error
	if err != nil {
		return nil, fmt.Errorf("error getting daily stats: %w", err)
	}

	return stats, nil
}

func (s *StatsService) topLabels(q *gorm.DB, column string) ([]LabelStat, error) {
	var labels []LabelStat
	err := q.Select(column + " as label, COUNT(*) as count").
		Group(column).
		Order("count DESC").
		Limit(10).
		Scan(&labels).Error
	if err != nil {
		return nil, fmt.Errorf("error getting %s: %w", column, err)
	}
	return labels, nil
}

func (s *StatsService) GetRealtimeStats(ctx context.Context) (lpredis.Realtime, error) {
	if s.realtime == nil {
		return lpredis.Realtime{}, ErrRealtimeDisabled
	}
	return s.realtime.Realtime(ctx)
}

// RollupDay recalcule la ligne daily_stats du jour donné, rejouable
func (s *StatsService) RollupDay(ctx context.Context, day time.Time) (DailyStat, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	db := s.db.WithContext(ctx)

	stat := DailyStat{Date: start.Format(time.DateOnly)}

	err := db.Model(&lpvisitors.Visitor{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Count(&stat.NewVisitors).Error
	if err != nil {
		return stat, fmt.Errorf("rollup %s: %w", stat.Date, err)
	}

	err = db.Model(&lpvisitors.Visitor{}).
		Where("updated_at >= ? AND updated_at < ?", start, end).
		Count(&stat.ActiveVisitors).Error
	if err != nil {
		return stat, fmt.Errorf("rollup %s: %w", stat.Date, err)
	}

	err = db.Model(&lpvisitors.Visitor{}).
		Where("updated_at >= ? AND updated_at < ? AND movel = ?", start, end, true).
		Count(&stat.MobileVisitors).Error
	if err != nil {
		return stat, fmt.Errorf("rollup %s: %w", stat.Date, err)
	}

	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"new_visitors", "active_visitors", "mobile_visitors", "updated_at"}),
	}).Create(&stat).Error
	if err != nil {
		return stat, fmt.Errorf("rollup %s: %w", stat.Date, err)
	}
	return stat, nil
}

// StartCron planifie le rollup de la veille, expression vide pour désactiver
func (s *StatsService) StartCron(expr string) error {
	if expr == "" {
		return nil
	}

	s.cron = cron.New()
	_, err := s.cron.AddFunc(expr, func() {
		yesterday := s.now().AddDate(0, 0, -1)
		stat, err := s.RollupDay(context.Background(), yesterday)
		if err != nil {
			log.Error().Err(err).Msg("Rollup failed")
			return
		}
		log.Info().
			Str("date", stat.Date).
			Int64("new_visitors", stat.NewVisitors).
			Int64("active_visitors", stat.ActiveVisitors).
			Msg("Rollup completed successfully")
	})
	if err != nil {
		return fmt.Errorf("expression cron %q: %w", expr, err)
	}

	s.cron.Start()
	return nil
}

func (s *StatsService) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
