package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// snapshotFile is the serialized form of the two logical tables.
type snapshotFile struct {
	Patients    []Patient    `json:"patients"`
	TestResults []TestResult `json:"test_results"`
}

// Persist writes a complete snapshot of the in-memory tables to disk
// atomically (write-to-temp + rename), applies queued discharges against the
// disk copy, then clears the discharge queue. A crash mid-persist leaves the
// previous snapshot intact; the queued discharges re-apply on the next call.
func (s *Store) Persist() error {
	s.mu.Lock()
	snap, pending := s.buildSnapshotLocked()
	s.mu.Unlock()

	s.diskMu.Lock()
	s.diskBusy.Store(true)
	err := writeAtomic(s.snapshotPath, snap)
	s.diskBusy.Store(false)
	s.diskMu.Unlock()
	if err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	s.mu.Lock()
	for _, mrn := range pending {
		delete(s.discharged, mrn)
	}
	s.mu.Unlock()
	return nil
}

// buildSnapshotLocked assembles the serializable tables and the list of
// discharges applied by this snapshot. Queued discharges are filtered out of
// the patient table even though DischargePatient already removed them from
// memory; re-applying the same delete is idempotent by design.
func (s *Store) buildSnapshotLocked() (snapshotFile, []string) {
	snap := snapshotFile{
		Patients:    make([]Patient, 0, len(s.patients)),
		TestResults: make([]TestResult, 0),
	}
	pending := make([]string, 0, len(s.discharged))
	for mrn := range s.discharged {
		pending = append(pending, mrn)
	}

	for _, p := range s.patients {
		if s.discharged[p.MRN] {
			continue
		}
		snap.Patients = append(snap.Patients, p)
	}
	sort.Slice(snap.Patients, func(i, j int) bool {
		return snap.Patients[i].MRN < snap.Patients[j].MRN
	})

	mrns := make([]string, 0, len(s.results))
	for mrn := range s.results {
		mrns = append(mrns, mrn)
	}
	sort.Strings(mrns)
	for _, mrn := range mrns {
		snap.TestResults = append(snap.TestResults, s.results[mrn]...)
	}

	return snap, pending
}

func writeAtomic(path string, snap snapshotFile) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads the on-disk snapshot into the in-memory tables.
func (s *Store) loadSnapshot() error {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		return err
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("snapshot corrupt: %w", err)
	}

	s.diskMu.Lock()
	s.diskBusy.Store(true)
	defer func() {
		s.diskBusy.Store(false)
		s.diskMu.Unlock()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range snap.Patients {
		s.patients[p.MRN] = p
	}
	for _, r := range snap.TestResults {
		s.insertTestResultLocked(r.MRN, r.Date, r.Result)
	}
	return nil
}
