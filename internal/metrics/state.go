package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	stateDir  = ".akimon"
	stateFile = "state.json"

	statePeriod = 2 * time.Second
)

// stateDocument is the on-disk shape of the state file. The envelope
// identifies which process wrote it so a stale file from a dead service is
// distinguishable from a live one.
type stateDocument struct {
	Service string   `json:"service"`
	PID     int      `json:"pid"`
	Stats   Snapshot `json:"stats"`
}

// StatePersister periodically writes the current Snapshot to a JSON file
// so that `akimon status` can read it without talking to the running service.
type StatePersister struct {
	collector *Collector
	logger    zerolog.Logger
	path      string
	done      chan struct{}
}

// NewStatePersister creates a persister that writes to ~/.akimon/state.json.
func NewStatePersister(collector *Collector, logger zerolog.Logger) (*StatePersister, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(home, stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &StatePersister{
		collector: collector,
		logger:    logger.With().Str("component", "state-persister").Logger(),
		path:      filepath.Join(dir, stateFile),
		done:      make(chan struct{}),
	}, nil
}

// Start begins periodic state file writes.
func (sp *StatePersister) Start() {
	go sp.loop()
}

// Stop halts the persister and writes a final snapshot.
func (sp *StatePersister) Stop() {
	select {
	case <-sp.done:
	default:
		close(sp.done)
	}
	sp.write() // Final write.
}

// Path returns the state file path.
func (sp *StatePersister) Path() string {
	return sp.path
}

func (sp *StatePersister) loop() {
	ticker := time.NewTicker(statePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-sp.done:
			return
		case <-ticker.C:
			sp.write()
		}
	}
}

func (sp *StatePersister) write() {
	doc := stateDocument{
		Service: "akimon",
		PID:     os.Getpid(),
		Stats:   sp.collector.Snapshot(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		sp.logger.Err(err).Msg("marshal state")
		return
	}
	// Write to temp file then rename for atomicity.
	tmp := sp.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		sp.logger.Err(err).Msg("write state file")
		return
	}
	if err := os.Rename(tmp, sp.path); err != nil {
		sp.logger.Err(err).Msg("rename state file")
	}
}

// ReadStateFile reads the last-persisted Snapshot from ~/.akimon/state.json.
func ReadStateFile() (*Snapshot, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, stateDir, stateFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Service != "akimon" {
		return nil, fmt.Errorf("state file %s written by %q", path, doc.Service)
	}
	return &doc.Stats, nil
}
