// Package store owns all patient and test-result state. The authoritative
// working copy lives in memory; a durable snapshot of the same logical tables
// is rewritten on disk after every message.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Patient is one row of the patients table.
type Patient struct {
	MRN string `json:"mrn"`
	Age int    `json:"age"`
	Sex string `json:"sex"`
}

// TestResult is one row of the test_results table. Date keeps the wire
// representation; the feature engine parses it leniently.
type TestResult struct {
	MRN    string  `json:"mrn"`
	Date   string  `json:"date"`
	Result float64 `json:"result"`
}

// HistoryRow is one row of the patients ⋈ test_results join.
type HistoryRow struct {
	MRN    string
	Age    int
	Sex    string
	Date   string
	Result float64
}

// Store holds the in-memory tables and manages the on-disk snapshot.
type Store struct {
	logger       zerolog.Logger
	snapshotPath string

	mu         sync.Mutex
	patients   map[string]Patient
	results    map[string][]TestResult         // per-MRN, insertion order
	resultSeen map[string]map[string]struct{}  // (mrn, date) uniqueness
	discharged map[string]bool                 // queued for on-disk delete

	// diskMu guards the snapshot file. diskBusy is advisory telemetry;
	// correctness depends on the mutex alone.
	diskMu   sync.Mutex
	diskBusy atomic.Bool
}

// Open loads the store: from the on-disk snapshot when one exists, otherwise
// by bootstrapping test results from the history CSV. The snapshot file is
// created immediately if missing so a crash before the first message still
// leaves a durable copy.
func Open(snapshotPath, historyPath string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		logger:       logger.With().Str("component", "store").Logger(),
		snapshotPath: snapshotPath,
		patients:     make(map[string]Patient),
		results:      make(map[string][]TestResult),
		resultSeen:   make(map[string]map[string]struct{}),
		discharged:   make(map[string]bool),
	}

	if _, err := os.Stat(snapshotPath); err == nil {
		if err := s.loadSnapshot(); err != nil {
			return nil, fmt.Errorf("load snapshot %s: %w", snapshotPath, err)
		}
		s.logger.Info().Str("path", snapshotPath).Msg("loaded on-disk snapshot")
	} else {
		if err := s.bootstrapCSV(historyPath); err != nil {
			return nil, fmt.Errorf("bootstrap from %s: %w", historyPath, err)
		}
		s.logger.Info().Str("path", historyPath).Msg("bootstrapped from history CSV")
		if err := os.MkdirAll(filepath.Dir(snapshotPath), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		if err := s.Persist(); err != nil {
			return nil, fmt.Errorf("initial persist: %w", err)
		}
	}

	return s, nil
}

// InsertPatient adds a patient to the active set. Inserting an existing MRN
// is a no-op. A previously queued discharge for the MRN is cancelled.
func (s *Store) InsertPatient(mrn string, age int, sex string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, queued := s.discharged[mrn]; queued {
		s.discharged[mrn] = false
	}
	if _, ok := s.patients[mrn]; ok {
		s.logger.Debug().Str("mrn", mrn).Msg("patient already in patients table")
		return
	}
	s.patients[mrn] = Patient{MRN: mrn, Age: age, Sex: sex}
}

// DischargePatient removes the patient from the active set and queues the
// MRN for deletion from the on-disk patient table at the next persist.
// Test results are kept for historic data.
func (s *Store) DischargePatient(mrn string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discharged[mrn] = true
	delete(s.patients, mrn)
}

// GetPatient returns the active patient row for the MRN, if present.
func (s *Store) GetPatient(mrn string) (Patient, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[mrn]
	return p, ok
}

// InsertTestResult records a test result. A duplicate (mrn, date) is a no-op.
func (s *Store) InsertTestResult(mrn, date string, result float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertTestResultLocked(mrn, date, result)
}

func (s *Store) insertTestResultLocked(mrn, date string, result float64) {
	seen, ok := s.resultSeen[mrn]
	if !ok {
		seen = make(map[string]struct{})
		s.resultSeen[mrn] = seen
	}
	if _, dup := seen[date]; dup {
		s.logger.Debug().Str("mrn", mrn).Str("date", date).Msg("test result already in test_results table")
		return
	}
	seen[date] = struct{}{}
	s.results[mrn] = append(s.results[mrn], TestResult{MRN: mrn, Date: date, Result: result})
}

// GetTestResult returns the test result for (mrn, date), if present.
func (s *Store) GetTestResult(mrn, date string) (TestResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resultSeen[mrn][date]; !ok {
		return TestResult{}, false
	}
	for _, r := range s.results[mrn] {
		if r.Date == date {
			return r, true
		}
	}
	return TestResult{}, false
}

// GetTestResults returns all test results for the MRN in insertion order.
func (s *Store) GetTestResults(mrn string) []TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TestResult, len(s.results[mrn]))
	copy(out, s.results[mrn])
	return out
}

// GetPatientHistory returns the patients ⋈ test_results join for the MRN,
// one row per test in insertion order. An MRN without an active patient row
// joins to nothing.
func (s *Store) GetPatientHistory(mrn string) []HistoryRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[mrn]
	if !ok {
		return nil
	}
	rows := make([]HistoryRow, 0, len(s.results[mrn]))
	for _, r := range s.results[mrn] {
		rows = append(rows, HistoryRow{
			MRN:    mrn,
			Age:    p.Age,
			Sex:    p.Sex,
			Date:   r.Date,
			Result: r.Result,
		})
	}
	return rows
}

// DiskBusy reports whether a snapshot write is in flight. Advisory only.
func (s *Store) DiskBusy() bool {
	return s.diskBusy.Load()
}

// Close releases the store. The in-memory tables stay readable; callers are
// expected to have called Persist first.
func (s *Store) Close() {
	s.logger.Debug().Msg("store closed")
}
