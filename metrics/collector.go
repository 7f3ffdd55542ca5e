// Package metrics provides process-wide relay counters.
//
// The Collector accumulates counters across all sessions. It is a leaf
// package with no internal dependencies; sentence types are recorded by
// their wire code so the package stays free of the types package.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions
	SessionsStarted     int64
	SessionsClosed      int64
	SessionsFailed      int64
	ConnectionsRejected int64

	// Wire
	FramesReceived int64
	FramesSent     int64
	ProtocolErrors int64
	WriteErrors    int64
	ImagesReceived int64

	// Generation
	CyclesCompleted  int64
	BackendErrors    int64
	SentencesByCode  map[uint8]int64
	CommandParseErrs int64

	// Stats persistence (per call)
	StatsWriteSuccess int64
	StatsWriteFailure int64

	// Dimensions (informational, set at construction)
	Model          string
	StorageBackend string
}

// Collector accumulates relay metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted     int64
	sessionsClosed      int64
	sessionsFailed      int64
	connectionsRejected int64

	framesReceived int64
	framesSent     int64
	protocolErrors int64
	writeErrors    int64
	imagesReceived int64

	cyclesCompleted  int64
	backendErrors    int64
	sentencesByCode  map[uint8]int64
	commandParseErrs int64

	statsWriteSuccess int64
	statsWriteFailure int64

	model          string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(model, storageBackend string) *Collector {
	return &Collector{
		sentencesByCode: make(map[uint8]int64),
		model:           model,
		storageBackend:  storageBackend,
	}
}

// inc increments a counter field. Callers check for a nil receiver.
func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionStarted records an accepted connection.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsStarted)
}

// IncSessionClosed records a session that ended cleanly.
func (c *Collector) IncSessionClosed() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsClosed)
}

// IncSessionFailed records a session that ended with an error.
func (c *Collector) IncSessionFailed() {
	if c == nil {
		return
	}
	c.inc(&c.sessionsFailed)
}

// IncConnectionRejected records a connection refused by the connection limit.
func (c *Collector) IncConnectionRejected() {
	if c == nil {
		return
	}
	c.inc(&c.connectionsRejected)
}

// --- Wire ---

// IncFramesReceived records one decoded inbound frame.
func (c *Collector) IncFramesReceived() {
	if c == nil {
		return
	}
	c.inc(&c.framesReceived)
}

// IncFramesSent records one written outbound frame.
func (c *Collector) IncFramesSent() {
	if c == nil {
		return
	}
	c.inc(&c.framesSent)
}

// IncProtocolErrors records a malformed or truncated inbound frame.
func (c *Collector) IncProtocolErrors() {
	if c == nil {
		return
	}
	c.inc(&c.protocolErrors)
}

// IncWriteErrors records a failed outbound write.
func (c *Collector) IncWriteErrors() {
	if c == nil {
		return
	}
	c.inc(&c.writeErrors)
}

// IncImagesReceived records a stored image upload.
func (c *Collector) IncImagesReceived() {
	if c == nil {
		return
	}
	c.inc(&c.imagesReceived)
}

// --- Generation ---

// IncCyclesCompleted records a finished generation cycle.
func (c *Collector) IncCyclesCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.cyclesCompleted)
}

// IncBackendErrors records a failed backend submission or stream.
func (c *Collector) IncBackendErrors() {
	if c == nil {
		return
	}
	c.inc(&c.backendErrors)
}

// IncCommandParseErrors records a command sentence without an extractable name.
func (c *Collector) IncCommandParseErrors() {
	if c == nil {
		return
	}
	c.inc(&c.commandParseErrs)
}

// IncSentence records one emitted sentence by wire code.
func (c *Collector) IncSentence(code uint8) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sentencesByCode[code]++
	c.mu.Unlock()
}

// --- Stats persistence ---
// Counters are per RecordCycle call.

// IncStatsWriteSuccess records a persisted cycle record.
func (c *Collector) IncStatsWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.statsWriteSuccess)
}

// IncStatsWriteFailure records a cycle record that could not be persisted.
func (c *Collector) IncStatsWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.statsWriteFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionsStarted:     c.sessionsStarted,
		SessionsClosed:      c.sessionsClosed,
		SessionsFailed:      c.sessionsFailed,
		ConnectionsRejected: c.connectionsRejected,

		FramesReceived: c.framesReceived,
		FramesSent:     c.framesSent,
		ProtocolErrors: c.protocolErrors,
		WriteErrors:    c.writeErrors,
		ImagesReceived: c.imagesReceived,

		CyclesCompleted:  c.cyclesCompleted,
		BackendErrors:    c.backendErrors,
		SentencesByCode:  maps.Clone(c.sentencesByCode),
		CommandParseErrs: c.commandParseErrs,

		StatsWriteSuccess: c.statsWriteSuccess,
		StatsWriteFailure: c.statsWriteFailure,

		Model:          c.model,
		StorageBackend: c.storageBackend,
	}
}
