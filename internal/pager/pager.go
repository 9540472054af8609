// Package pager delivers AKI pages over HTTP with at-least-once semantics.
// Undelivered pages live in a persistent FIFO queue that is flushed to disk
// after every mutation, so no accepted page is lost across restarts. The
// pager service deduplicates; the queue may contain duplicates.
package pager

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxAttempts = 3
	baseDelay   = 400 * time.Millisecond
)

// Entry is one pending page.
type Entry struct {
	MRN  string `json:"mrn"`
	Date string `json:"date"`
}

// Dispatcher sends pages and owns the persistent retry queue.
type Dispatcher struct {
	url       string
	queuePath string
	client    *http.Client
	logger    zerolog.Logger

	queue []Entry

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// New creates a Dispatcher posting to http://host:port/page, restoring any
// queue persisted at queuePath.
func New(host string, port int, queuePath string, logger zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		url:       fmt.Sprintf("http://%s:%d/page", host, port),
		queuePath: queuePath,
		client:    http.DefaultClient,
		logger:    logger.With().Str("component", "pager").Logger(),
		sleep:     time.Sleep,
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

// QueueLen returns the number of pending entries.
func (d *Dispatcher) QueueLen() int {
	return len(d.queue)
}

// Send pages (mrn, date). On success it drains the pending queue in FIFO
// order with the same per-item retry policy, re-queueing the first item
// whose attempts are exhausted. On failure the entry joins the tail of the
// queue. The queue file is flushed before returning either way.
func (d *Dispatcher) Send(mrn, date string) error {
	d.logger.Info().Str("mrn", mrn).Str("date", date).Msg("dispatching page")

	if d.attempt(Entry{MRN: mrn, Date: date}) {
		d.drain()
	} else {
		d.queue = append(d.queue, Entry{MRN: mrn, Date: date})
	}
	return d.Flush()
}

// drain retries queued entries head-first, stopping at the first entry that
// exhausts its attempts; that entry moves to the tail.
func (d *Dispatcher) drain() {
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		if !d.attempt(next) {
			d.queue = append(d.queue, next)
			return
		}
	}
}

// attempt posts one entry up to maxAttempts times. The delay between tries
// starts at 0.4s and is multiplied by the attempt count after each failure.
func (d *Dispatcher) attempt(e Entry) bool {
	delay := baseDelay
	for retries := 0; retries < maxAttempts; {
		if d.post(e) {
			return true
		}
		retries++
		delay *= time.Duration(retries)
		d.logger.Warn().
			Str("mrn", e.MRN).
			Int("attempt", retries).
			Dur("retry_in", delay).
			Msg("page attempt failed")
		d.sleep(delay)
	}
	return false
}

func (d *Dispatcher) post(e Entry) bool {
	body := strings.NewReader(e.MRN + "," + e.Date)
	resp, err := d.client.Post(d.url, "text/plain", body)
	if err != nil {
		d.logger.Warn().Err(err).Str("mrn", e.MRN).Msg("pager request failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Flush writes the queue to disk atomically.
func (d *Dispatcher) Flush() error {
	data, err := json.Marshal(d.queue)
	if err != nil {
		return fmt.Errorf("marshal pager queue: %w", err)
	}
	tmp := d.queuePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write pager queue: %w", err)
	}
	if err := os.Rename(tmp, d.queuePath); err != nil {
		return fmt.Errorf("rename pager queue: %w", err)
	}
	return nil
}

func (d *Dispatcher) load() error {
	data, err := os.ReadFile(d.queuePath)
	if err != nil {
		if os.IsNotExist(err) {
			d.queue = []Entry{}
			return nil
		}
		return fmt.Errorf("read pager queue: %w", err)
	}
	if err := json.Unmarshal(data, &d.queue); err != nil {
		return fmt.Errorf("pager queue corrupt: %w", err)
	}
	if len(d.queue) > 0 {
		d.logger.Info().Int("pending", len(d.queue)).Msg("restored pager queue")
	}
	return nil
}
