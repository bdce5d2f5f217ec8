package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		path      string
		wantLevel string
		wantRoute string
	}{
		{name: "ok", path: "/ok", wantLevel: "info", wantRoute: "/ok"},
		{name: "client error", path: "/items/7", wantLevel: "warn", wantRoute: "/items/:id"},
		{name: "server error", path: "/fail", wantLevel: "error", wantRoute: "/fail"},
		{name: "unrouted", path: "/nowhere", wantLevel: "warn", wantRoute: RouteUnmatched},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			r := gin.New()
			r.Use(RequestLogger(zap.New(core)))
			r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
			r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
			r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			entries := logs.FilterMessage("http_request").All()
			if len(entries) != 1 {
				t.Fatalf("logged %d requests, want 1", len(entries))
			}
			e := entries[0]
			if e.Level.String() != tt.wantLevel {
				t.Errorf("level = %s, want %s", e.Level, tt.wantLevel)
			}
			fields := e.ContextMap()
			if got := fields["route"]; got != tt.wantRoute {
				t.Errorf("route = %v, want %s", got, tt.wantRoute)
			}
			if got := fields["path"]; got != tt.path {
				t.Errorf("path = %v, want %s", got, tt.path)
			}
		})
	}
}

func TestRequestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestMetricsMiddleware())
	r.GET("/plots/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	counter := httpRequests.WithLabelValues("GET", "/plots/:id", "200")
	before := testutil.ToFloat64(counter)
	for _, p := range []string{"/plots/1", "/plots/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("requests_total grew by %v, want 2", got)
	}
}

func TestRequestMetricsUnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequestMetricsMiddleware())

	unmatched := httpRequests.WithLabelValues("GET", RouteUnmatched, "404")
	before := testutil.ToFloat64(unmatched)
	for _, p := range []string{"/scan/a", "/scan/b", "/scan/c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	if got := testutil.ToFloat64(unmatched) - before; got != 3 {
		t.Errorf("unmatched requests grew by %v, want 3", got)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/scan/a", "404")); got != 0 {
		t.Errorf("raw path series = %v, want 0", got)
	}
}
