package metrics

import (
	"fmt"
	"time"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var (
	SessionConnected = Collector.Gauge("wabridge_session_connected", "1 while the messaging session is ready", "")
	SessionRestarts  = Collector.Counter("wabridge_session_restarts_total", "Session restarts after disconnect or auth failure", "")
	PushSubscribers  = Collector.Gauge("wabridge_push_subscribers", "Connected push channel subscribers", "")
	PushDropped      = Collector.Counter("wabridge_push_dropped_total", "Subscribers dropped after a failed delivery", "")
	PushSkipped      = Collector.Counter("wabridge_push_skipped_total", "Events skipped for a subscriber whose queue was full", "")
	InboundMessages  = Collector.Counter("wabridge_inbound_messages_total", "Inbound chat messages received from the session", "")
	MediaBytes       = Collector.Counter("wabridge_media_fetched_bytes_total", "Bytes downloaded by the media fetcher", "")
)

// RecordDispatch counts one finished dispatch and observes its latency.
func RecordDispatch(kind, outcome string, elapsed time.Duration) {
	Collector.Counter("wabridge_dispatch_total", "Dispatched requests by kind and outcome",
		fmt.Sprintf("kind=%q,outcome=%q", kind, outcome)).Inc()
	Collector.Histogram("wabridge_dispatch_latency_seconds", "Dispatch latency in seconds",
		fmt.Sprintf("kind=%q", kind), latencyBuckets).Observe(elapsed.Seconds())
}
