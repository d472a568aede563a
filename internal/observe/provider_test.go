package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := p.Meter("observe-test").Int64Counter("kws.windows")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(ctx, 3, metric.WithAttributes(attribute.String("outcome", "speech")))

	srv := httptest.NewServer(p.Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	text := string(body)
	if !strings.Contains(text, "kws_windows") {
		t.Errorf("exposition missing kws_windows:\n%s", text)
	}
	if !strings.Contains(text, `outcome="speech"`) {
		t.Errorf("exposition missing outcome label:\n%s", text)
	}
}

func TestMux_Healthz(t *testing.T) {
	p, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	rec := httptest.NewRecorder()
	p.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
