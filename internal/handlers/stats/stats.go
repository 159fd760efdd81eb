package handlers_stats

import (
	"errors"
	"leadpulse/internal/models/lpstats"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type StatsHandler struct {
	service *lpstats.StatsService
}

func NewStatsHandler(service *lpstats.StatsService) *StatsHandler {
	return &StatsHandler{
		service: service,
	}
}

// GetStats30Days retourne les statistiques des 30 derniers jours
func (sh *StatsHandler) GetStats30Days(c *gin.Context) {
	stats, err := sh.service.GetStats30Days(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats 30 jours")
		c.JSON(http.StatusInternalServerError, gin.H{
			"erro": "Falha ao obter as estatísticas",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetRealtimeStats retourne les compteurs redis du jour
func (sh *StatsHandler) GetRealtimeStats(c *gin.Context) {
	stats, err := sh.service.GetRealtimeStats(c.Request.Context())
	if errors.Is(err, lpstats.ErrRealtimeDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"erro": "Estatísticas em tempo real indisponíveis",
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("stats temps réel")
		c.JSON(http.StatusInternalServerError, gin.H{
			"erro": "Falha ao obter as estatísticas em tempo real",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
