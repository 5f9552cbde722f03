package metrics

// Metric names understood by Prom. Unknown names are ignored.
const (
	QuestionsReceived  = "questions_received_total"
	QuestionsAdmitted  = "questions_admitted_total"
	QuestionsRejected  = "questions_rejected_total"
	QuestionsDuplicate = "questions_duplicate_total"
	AuthFailures       = "auth_failures_total"
	StorageFailures    = "storage_failures_total"
	Heartbeats         = "heartbeats_total"
	HeartbeatsFailed   = "heartbeats_failed_total"

	MessageCacheSize   = "message_cache_size"
	LastHeartbeatUnix  = "last_heartbeat_timestamp_seconds"
	AdmissionLatencyMs = "admission_latency_ms"
)

// Provider is the metrics sink handed to the operator and heartbeat loop.
type Provider interface {
	SetGauge(name string, value float64)
	IncCounter(name string, delta float64)
	Observe(name string, value float64)
}

type Noop struct{}

func (Noop) SetGauge(string, float64)   {}
func (Noop) IncCounter(string, float64) {}
func (Noop) Observe(string, float64)    {}
