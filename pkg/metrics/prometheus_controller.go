package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sowflow/sowflow/pkg/application"
)

const DefaultPath = "/debug/prometheus"

// PrometheusController exposes the workflow, API and outbox collectors.
type PrometheusController struct {
	path     string
	gatherer prometheus.Gatherer
}

func NewPrometheusController(path string) application.Controller {
	return NewPrometheusControllerFor(path, prometheus.DefaultGatherer)
}

// NewPrometheusControllerFor serves gatherer instead of the default registry.
func NewPrometheusControllerFor(path string, gatherer prometheus.Gatherer) *PrometheusController {
	if path == "" {
		path = DefaultPath
	}
	return &PrometheusController{path: path, gatherer: gatherer}
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	handler := promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
	r.Handle(c.path, handler).Methods(http.MethodGet)
}
