package lpmetrics

import (
	"context"
	"leadpulse/internal/models/lpnotify"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/penglongli/gin-metrics/ginmetrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	VisitorsCreated = "leadpulse_visitors_created_total"
	Reports         = "leadpulse_reports_total"
)

var once sync.Once

// Init branche le monitor gin et déclare les compteurs métier
func Init(r *gin.Engine) {
	m := ginmetrics.GetMonitor()
	once.Do(func() {
		addCounter(VisitorsCreated, "Visiteurs créés", nil)
		addCounter(Reports, "Rapports de session reçus", []string{"status"})
	})
	m.Use(r)
}

func addCounter(name, description string, labels []string) {
	err := ginmetrics.GetMonitor().AddMetric(&ginmetrics.Metric{
		Type:        ginmetrics.Counter,
		Name:        name,
		Description: description,
		Labels:      labels,
	})
	if err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metric non déclarée")
	}
}

func inc(name string, labels ...string) {
	metric := ginmetrics.GetMonitor().GetMetric(name)
	if metric == nil || metric.Name == "" {
		return
	}
	if err := metric.Inc(labels); err != nil {
		log.Debug().Err(err).Str("metric", name).Msg("incrément impossible")
	}
}

// CountReports compte les réponses de /register par code
func CountReports() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		inc(Reports, strconv.Itoa(c.Writer.Status()))
	}
}

// Notifier compte les créations, à combiner avec lpnotify.Multi
type Notifier struct{}

func (Notifier) Notify(_ context.Context, _ lpnotify.Event) error {
	inc(VisitorsCreated)
	return nil
}

// Serve expose /metrics sur une adresse séparée, bloquant
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
