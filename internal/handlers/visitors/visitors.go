package handlers_visitors

import (
	"errors"
	"io"
	"leadpulse/internal/lpmiddleware"
	"leadpulse/internal/models/lpvisitors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 64 << 10

type VisitorsHandler struct {
	service *lpvisitors.Service
}

func NewVisitorsHandler(service *lpvisitors.Service) *VisitorsHandler {
	return &VisitorsHandler{service: service}
}

// Verify indique si un uuid a déjà une ligne
func (h *VisitorsHandler) Verify(c *gin.Context) {
	exists, err := h.service.Verify(c.Request.Context(), c.Query("uuid"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"existe":  exists,
	})
}

// Register fusionne un rapport de session
func (h *VisitorsHandler) Register(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize+1))
	if err == nil && len(body) > maxBodySize {
		err = errors.New("corpo da requisição muito grande")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"erro":     "Formato de dados inválido",
			"detalhes": err.Error(),
		})
		return
	}

	report, err := lpvisitors.ParseReport(body)
	if err != nil {
		respondError(c, err)
		return
	}

	res, err := h.service.Register(c.Request.Context(), report, lpvisitors.ClientInfo{
		IP:        lpmiddleware.ClientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"visitante_id":   res.ID,
		"novo_visitante": res.Created,
	})
}

func MethodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"erro": "Método não permitido"})
}

func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"erro": "Recurso não encontrado"})
}

func respondError(c *gin.Context, err error) {
	var e *lpvisitors.Error
	if !errors.As(err, &e) {
		log.Error().Err(err).Msg("erreur inattendue")
		c.JSON(http.StatusInternalServerError, gin.H{"erro": "Ocorreu um erro ao processar a requisição"})
		return
	}

	status := http.StatusInternalServerError
	if errors.Is(err, lpvisitors.ErrValidation) {
		status = http.StatusBadRequest
	}

	payload := gin.H{"erro": e.Message}
	if details := e.Details(); details != "" {
		payload["detalhes"] = details
	}
	c.JSON(status, payload)
}
