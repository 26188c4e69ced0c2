package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesAppMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)

	m.PacketsTotal.Add(6)
	m.CommandsTotal.WithLabelValues("dim-up").Inc()
	m.RequestsTotal.WithLabelValues("http", "rejected").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"quntisd_packets_transmitted_total 6",
		`quntisd_commands_total{command="dim-up"} 1`,
		`quntisd_requests_total{result="rejected",source="http"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
