package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, p *Prom) string {
	t.Helper()
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPromExposesProviderUpdates(t *testing.T) {
	p := NewProm()
	p.IncCounter(QuestionsAdmitted, 2)
	p.IncCounter(QuestionsAdmitted, 1)
	p.IncCounter(HeartbeatsFailed, 1)
	p.SetGauge(MessageCacheSize, 17)
	p.Observe(AdmissionLatencyMs, 12)

	body := scrape(t, p)
	assert.Contains(t, body, "questions_admitted_total 3")
	assert.Contains(t, body, "heartbeats_failed_total 1")
	assert.Contains(t, body, "message_cache_size 17")
	assert.Contains(t, body, "admission_latency_ms_count 1")
}

func TestPromIgnoresUnknownAndNegative(t *testing.T) {
	p := NewProm()
	p.IncCounter("no_such_metric", 1)
	p.SetGauge("no_such_gauge", 1)
	p.Observe("no_such_histogram", 1)
	p.IncCounter(Heartbeats, -1)

	body := scrape(t, p)
	assert.NotContains(t, body, "no_such_metric")
	assert.Contains(t, body, "heartbeats_total 0")
}

func TestNoopSatisfiesProvider(t *testing.T) {
	var p Provider = Noop{}
	p.IncCounter(Heartbeats, 1)
	p.SetGauge(MessageCacheSize, 1)
	p.Observe(AdmissionLatencyMs, 1)
}
