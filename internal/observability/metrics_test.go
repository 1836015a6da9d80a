package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/mostrador/mostrador/internal/jobs"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("reminder:currency").End(nil)

	body := scrape(t, metrics)
	if !strings.Contains(body, `mostrador_jobs_total{job="reminder:currency",status="success"} 1`) {
		t.Fatalf("expected body to contain mostrador_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/quotes/{id}")

	req := httptest.NewRequest(http.MethodGet, "/quotes/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `mostrador_http_requests_total{code="418",route="/quotes/{id}"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `mostrador_http_request_duration_seconds_bucket{route="/quotes/{id}"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestObserveQuoteTransition(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveQuoteTransition("finalizar", "ok")
	metrics.ObserveQuoteTransition("finalizar", "invalid_state")
	metrics.ObserveQuoteTransition("finalizar", "invalid_state")

	body := scrape(t, metrics)
	if !strings.Contains(body, `mostrador_quote_transitions_total{action="finalizar",result="invalid_state"} 2`) {
		t.Fatalf("expected transition counter, got: %s", body)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveQuoteTransition("lock", "ok")
}
