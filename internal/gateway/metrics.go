package gateway

import (
	"fmt"
	"sync/atomic"
)

// Metrics counts gateway activity. Plain counters, exported in Prometheus
// text format and embedded in the health payload.
type Metrics struct {
	EventsBroadcast   atomic.Uint64
	CommandsReceived  atomic.Uint64
	CommandsRejected  atomic.Uint64
	GuessesSubmitted  atomic.Uint64
	FlushesSucceeded  atomic.Uint64
	FlushesFailed     atomic.Uint64
	ConnectionsOpened atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Export renders the counters in Prometheus exposition format.
func (m *Metrics) Export(activeConnections int) string {
	return fmt.Sprintf(`# HELP pictionaryd_events_broadcast_total Events fanned out to browser connections
# TYPE pictionaryd_events_broadcast_total counter
pictionaryd_events_broadcast_total %d

# HELP pictionaryd_commands_received_total Commands received from browser connections
# TYPE pictionaryd_commands_received_total counter
pictionaryd_commands_received_total %d

# HELP pictionaryd_commands_rejected_total Commands refused by gates or parsing
# TYPE pictionaryd_commands_rejected_total counter
pictionaryd_commands_rejected_total %d

# HELP pictionaryd_guesses_submitted_total Guess transactions submitted to the chain
# TYPE pictionaryd_guesses_submitted_total counter
pictionaryd_guesses_submitted_total %d

# HELP pictionaryd_flushes_succeeded_total Canvas batches confirmed on chain
# TYPE pictionaryd_flushes_succeeded_total counter
pictionaryd_flushes_succeeded_total %d

# HELP pictionaryd_flushes_failed_total Canvas batches that failed and were retained
# TYPE pictionaryd_flushes_failed_total counter
pictionaryd_flushes_failed_total %d

# HELP pictionaryd_connections_opened_total WebSocket connections accepted
# TYPE pictionaryd_connections_opened_total counter
pictionaryd_connections_opened_total %d

# HELP pictionaryd_connections_active Currently open WebSocket connections
# TYPE pictionaryd_connections_active gauge
pictionaryd_connections_active %d
`,
		m.EventsBroadcast.Load(),
		m.CommandsReceived.Load(),
		m.CommandsRejected.Load(),
		m.GuessesSubmitted.Load(),
		m.FlushesSucceeded.Load(),
		m.FlushesFailed.Load(),
		m.ConnectionsOpened.Load(),
		activeConnections,
	)
}
