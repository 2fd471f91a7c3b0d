package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/mcdev12/pgoutbox/go/internal/outbox"
)

// setupServer exposes health, metrics and the dead event list.
func setupServer(addr string, health *outbox.HealthChecker, client *outbox.Client, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.Handle("/healthz", health)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/dead", outbox.DeadMessagesHandler(client))

	return &http.Server{
		Addr:    addr,
		Handler: c.Handler(mux),
	}
}
