package routinggates

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	internalserver "github.com/sowflow/sowflow/internal/server"
	"github.com/sowflow/sowflow/modules"
	"github.com/sowflow/sowflow/modules/sow"
	"github.com/sowflow/sowflow/modules/sow/infrastructure/notify"
	"github.com/sowflow/sowflow/pkg/application"
	"github.com/sowflow/sowflow/pkg/configuration"
	"github.com/sowflow/sowflow/pkg/eventbus"
	"github.com/sowflow/sowflow/pkg/metrics"
	"github.com/sowflow/sowflow/pkg/middleware"
	pkgserver "github.com/sowflow/sowflow/pkg/server"
)

type apiError struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Meta    map[string]string `json:"meta"`
}

func buildServer(t *testing.T) *pkgserver.HTTPServer {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	conf := &configuration.Configuration{
		Outbox:             configuration.OutboxOptions{Table: "public.sow_workflow_outbox"},
		Workflow:           configuration.WorkflowOptions{ReconcileBatchSize: 100},
		Prometheus:         configuration.PrometheusOptions{Enabled: true, Path: "/debug/prometheus"},
		CORSAllowedOrigins: "http://localhost:3000",
		RequestIDHeader:    "X-Request-ID",
		RealIPHeader:       "X-Real-IP",
		ActorHeader:        "X-Actor-ID",
	}
	app := application.New(&application.ApplicationOptions{
		EventBus: eventbus.New(logger),
		Logger:   logger,
	})
	require.NoError(t, modules.Load(app, modules.BuiltInModules(&sow.ModuleOptions{
		Config:   conf,
		Notifier: notify.NewLogNotifier(logger),
	})...))
	app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))

	srv, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
	})
	require.NoError(t, err)
	return srv
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var payload apiError
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	return payload
}

func TestAPIErrorContracts_JSONOnly_For404And405(t *testing.T) {
	router := buildServer(t).Router()

	t.Run("404_unknown_route_is_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "http://example.com/sow/api/__nonexistent__", nil)
		req.Header.Set("X-Request-ID", "req-404")
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusNotFound, rr.Code)
		payload := decode(t, rr)
		require.Equal(t, "NOT_FOUND", payload.Code)
		require.Equal(t, "not found", payload.Message)
		require.Equal(t, "/sow/api/__nonexistent__", payload.Meta["path"])
		require.Equal(t, "req-404", payload.Meta["request_id"])
	})

	t.Run("405_wrong_method_is_json", func(t *testing.T) {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodDelete, "http://example.com/sow/api/stages", nil)
		router.ServeHTTP(rr, req)

		require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
		payload := decode(t, rr)
		require.Equal(t, "METHOD_NOT_ALLOWED", payload.Code)
		require.Equal(t, http.MethodDelete, payload.Meta["method"])
		require.Equal(t, "/sow/api/stages", payload.Meta["path"])
	})
}

func TestAPIErrorContracts_PanicRecovery_IsJSON(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := middleware.WithLogger(logger, middleware.DefaultLoggerOptions())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "http://example.com/sow/api/stages", nil)
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	payload := decode(t, rr)
	require.Equal(t, "INTERNAL_SERVER_ERROR", payload.Code)
	require.Equal(t, "internal server error", payload.Message)
	require.NotEmpty(t, payload.Meta["request_id"])
}

func TestExposureBaseline_OnlyWorkflowAndMetricsRoutes(t *testing.T) {
	router := buildServer(t).Router()

	var offending []string
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		tpl, err := route.GetPathTemplate()
		if err != nil {
			return nil
		}
		if tpl != "/sow/api" && !strings.HasPrefix(tpl, "/sow/api/") && tpl != "/debug/prometheus" {
			offending = append(offending, tpl)
		}
		return nil
	})
	require.NoError(t, err)

	if len(offending) > 0 {
		sort.Strings(offending)
		t.Fatalf("unexpected routes registered:\n%s", strings.Join(offending, "\n"))
	}
}
