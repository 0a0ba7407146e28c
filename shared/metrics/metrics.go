package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_channel_reconnects_total",
		Help: "Successful channel reconnections",
	})
	ActiveScopes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_channel_active_scopes",
		Help: "Conversation scopes currently joined",
	})
	MessagesMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_merged_total",
		Help: "Messages merged into the cached page",
	})
	DuplicatesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_duplicates_total",
		Help: "Message deliveries dropped because the id was already cached",
	})
	CacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_cache_invalidations_total",
		Help: "Query cache invalidations",
	})
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Reconnects,
			ActiveScopes,
			MessagesMerged,
			DuplicatesDropped,
			CacheInvalidations,
		)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
