package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Phase names reported by the collector.
const (
	PhaseConnecting = "connecting"
	PhaseListening  = "listening"
	PhaseStopped    = "stopped"
)

// Snapshot is the complete operational state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	// Socket
	Reconnections int64 `json:"reconnections"`

	// Message throughput
	Messages       int64   `json:"messages"`
	MessagesPerSec float64 `json:"messages_per_sec"`

	// Patient flow
	Admissions int64 `json:"admissions"`
	Discharges int64 `json:"discharges"`

	// Blood tests and detections
	BloodTests       int64   `json:"blood_tests"`
	BloodTestAverage float64 `json:"blood_test_average"`
	PositiveAKIs     int64   `json:"positive_akis"`
	PositiveAKIRate  float64 `json:"positive_aki_rate"`

	// Processing latency
	LatencyAvgSec  float64 `json:"latency_avg_sec"`
	LatencySlowMsg int64   `json:"latency_slow_messages"`

	// Delivery
	PagerBacklog int `json:"pager_backlog"`

	// Errors
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates pipeline statistics and keeps the Prometheus registry
// in step. Snapshots feed the HTTP API, the state file, and the monitor TUI.
type Collector struct {
	registry *Registry

	mu        sync.RWMutex
	phase     string
	startedAt time.Time

	reconnections int64
	pagerBacklog  int

	bloodTestSum float64
	latencySum   float64

	messages   atomic.Int64
	admissions atomic.Int64
	discharges atomic.Int64
	bloodTests atomic.Int64
	positives  atomic.Int64
	slowMsgs   atomic.Int64

	errorCount atomic.Int64
	lastError  atomic.Value // string

	msgWindow *slidingWindow

	// Subscribers for push-based updates.
	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	// Log ring buffer.
	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a Collector bound to the given registry.
func NewCollector(registry *Registry) *Collector {
	c := &Collector{
		registry:      registry,
		reconnections: -1,
		subscribers:   make(map[chan Snapshot]struct{}),
		msgWindow:     newSlidingWindow(60 * time.Second),
		logs:          make([]LogEntry, 0, 500),
		logCap:        500,
		done:          make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// SetPhase updates the current pipeline phase.
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// SocketConnected records a (re)connection to the message source. The first
// connection lands the reconnection count on zero.
func (c *Collector) SocketConnected() {
	c.mu.Lock()
	c.reconnections++
	c.mu.Unlock()
	c.registry.SocketReconnections.Inc()
}

// MessageReceived counts one inbound message.
func (c *Collector) MessageReceived() {
	c.messages.Add(1)
	c.msgWindow.Add(time.Now(), 1)
	c.registry.Messages.Inc()
}

// PatientAdmitted counts one admission.
func (c *Collector) PatientAdmitted() {
	c.admissions.Add(1)
	c.registry.PatientAdmits.Inc()
}

// PatientDischarged counts one discharge.
func (c *Collector) PatientDischarged() {
	c.discharges.Add(1)
	c.registry.PatientDischarges.Inc()
}

// BloodTest records one creatinine result and refreshes the running average.
func (c *Collector) BloodTest(value float64) {
	n := c.bloodTests.Add(1)
	c.mu.Lock()
	c.bloodTestSum += value
	avg := c.bloodTestSum / float64(n)
	c.mu.Unlock()
	c.registry.BloodTests.Inc()
	c.registry.BloodTestAverage.Set(avg)
}

// PositiveAKI records one positive detection and refreshes the positive rate
// over all blood tests seen so far.
func (c *Collector) PositiveAKI() {
	pos := c.positives.Add(1)
	c.registry.PositiveAKIs.Inc()
	if tests := c.bloodTests.Load(); tests > 0 {
		c.registry.PositiveAKIRate.Set(float64(pos) / float64(tests))
	}
}

// ObserveLatency records end-to-end processing time for one lab result.
// The average is taken over blood tests; PAS traffic is never observed here.
func (c *Collector) ObserveLatency(d time.Duration) {
	n := c.bloodTests.Load()
	if n == 0 {
		n = 1
	}
	c.mu.Lock()
	c.latencySum += d.Seconds()
	avg := c.latencySum / float64(n)
	c.mu.Unlock()
	c.registry.LatencyAverage.Set(avg)
	if d > 3*time.Second {
		c.slowMsgs.Add(1)
		c.registry.LatencyExceeds.Inc()
	}
}

// SetPagerBacklog publishes the size of the pending pager queue.
func (c *Collector) SetPagerBacklog(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pagerBacklog = n
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	c.registry.Failures.Inc()
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		// Shift buffer: drop oldest quarter.
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Snapshot returns the current operational state (thread-safe).
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	messages := c.messages.Load()
	tests := c.bloodTests.Load()
	positives := c.positives.Load()

	var testAvg float64
	if tests > 0 {
		testAvg = c.bloodTestSum / float64(tests)
	}
	var posRate float64
	if tests > 0 {
		posRate = float64(positives) / float64(tests)
	}
	var latAvg float64
	if tests > 0 {
		latAvg = c.latencySum / float64(tests)
	}

	reconnections := c.reconnections
	if reconnections < 0 {
		reconnections = 0
	}

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	return Snapshot{
		Timestamp:        now,
		Phase:            c.phase,
		ElapsedSec:       elapsed,
		Reconnections:    reconnections,
		Messages:         messages,
		MessagesPerSec:   c.msgWindow.Rate(),
		Admissions:       c.admissions.Load(),
		Discharges:       c.discharges.Load(),
		BloodTests:       tests,
		BloodTestAverage: testAvg,
		PositiveAKIs:     positives,
		PositiveAKIRate:  posRate,
		LatencyAvgSec:    latAvg,
		LatencySlowMsg:   c.slowMsgs.Load(),
		PagerBacklog:     c.pagerBacklog,
		ErrorCount:       int(c.errorCount.Load()),
		LastError:        lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
					// Subscriber too slow, skip.
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
