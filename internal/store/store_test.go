package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const historyCSV = `mrn,creatinine_date_0,creatinine_result_0,creatinine_date_1,creatinine_result_1
822825,2024-01-01 06:12:00,68.58,,
640400,2024-01-05 10:00:00,88.1,2024-01-09 10:00:00,92.4,
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	histPath := filepath.Join(dir, "history.csv")
	if err := os.WriteFile(histPath, []byte(historyCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(filepath.Join(dir, "database.db"), histPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

func TestBootstrapCSV(t *testing.T) {
	s := newTestStore(t)

	got := s.GetTestResults("822825")
	if len(got) != 1 {
		t.Fatalf("GetTestResults(822825) = %d rows, want 1", len(got))
	}
	if got[0].Date != "2024-01-01 06:12:00" || got[0].Result != 68.58 {
		t.Errorf("row = %+v", got[0])
	}

	if got := s.GetTestResults("640400"); len(got) != 2 {
		t.Errorf("GetTestResults(640400) = %d rows, want 2", len(got))
	}

	// Patients table is never populated from CSV.
	if _, ok := s.GetPatient("822825"); ok {
		t.Error("CSV bootstrap must not create patient rows")
	}
}

func TestInsertPatient_Idempotent(t *testing.T) {
	s := newTestStore(t)

	s.InsertPatient("100", 52, "M")
	s.InsertPatient("100", 99, "F") // duplicate: no-op

	p, ok := s.GetPatient("100")
	if !ok {
		t.Fatal("GetPatient(100) absent")
	}
	if p.Age != 52 || p.Sex != "M" {
		t.Errorf("patient = %+v, duplicate insert must not overwrite", p)
	}
}

func TestDischarge_KeepsTestResults(t *testing.T) {
	s := newTestStore(t)

	s.InsertPatient("200", 40, "F")
	s.InsertTestResult("200", "20240101120000", 70.5)
	s.DischargePatient("200")

	if _, ok := s.GetPatient("200"); ok {
		t.Error("patient still visible after discharge")
	}
	if got := s.GetTestResults("200"); len(got) != 1 {
		t.Errorf("test results = %d rows after discharge, want 1", len(got))
	}
}

func TestInsertTestResult_Idempotent(t *testing.T) {
	s := newTestStore(t)

	s.InsertTestResult("300", "20240101120000", 70.5)
	s.InsertTestResult("300", "20240101120000", 999.9) // duplicate key: no-op
	s.InsertTestResult("300", "20240101130000", 71.0)

	got := s.GetTestResults("300")
	if len(got) != 2 {
		t.Fatalf("rows = %d, want 2", len(got))
	}
	if got[0].Result != 70.5 {
		t.Errorf("first row = %+v, duplicate must be dropped", got[0])
	}

	r, ok := s.GetTestResult("300", "20240101120000")
	if !ok || r.Result != 70.5 {
		t.Errorf("GetTestResult = %+v, %v", r, ok)
	}
	if _, ok := s.GetTestResult("300", "20990101000000"); ok {
		t.Error("GetTestResult on absent date returned a row")
	}
}

func TestGetPatientHistory(t *testing.T) {
	s := newTestStore(t)

	// No patient row: join is empty even though results exist.
	if rows := s.GetPatientHistory("822825"); len(rows) != 0 {
		t.Errorf("history without patient = %d rows, want 0", len(rows))
	}

	s.InsertPatient("822825", 61, "F")
	rows := s.GetPatientHistory("822825")
	if len(rows) != 1 {
		t.Fatalf("history = %d rows, want 1", len(rows))
	}
	r := rows[0]
	if r.MRN != "822825" || r.Age != 61 || r.Sex != "F" || r.Result != 68.58 {
		t.Errorf("row = %+v", r)
	}
}

func TestPersist_Reopen(t *testing.T) {
	dir := t.TempDir()
	histPath := filepath.Join(dir, "history.csv")
	if err := os.WriteFile(histPath, []byte(historyCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	snapPath := filepath.Join(dir, "database.db")

	s, err := Open(snapPath, histPath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.InsertPatient("400", 30, "M")
	s.InsertPatient("401", 70, "F")
	s.InsertTestResult("400", "20240201080000", 101.2)
	s.DischargePatient("401")
	if err := s.Persist(); err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	s.Close()

	// Reopen from the snapshot (history CSV no longer consulted).
	s2, err := Open(snapPath, filepath.Join(dir, "nonexistent.csv"), zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if _, ok := s2.GetPatient("400"); !ok {
		t.Error("patient 400 lost across restart")
	}
	if _, ok := s2.GetPatient("401"); ok {
		t.Error("discharged patient 401 present after restart")
	}
	if r, ok := s2.GetTestResult("400", "20240201080000"); !ok || r.Result != 101.2 {
		t.Errorf("test result lost across restart: %+v, %v", r, ok)
	}
	if got := s2.GetTestResults("822825"); len(got) != 1 {
		t.Errorf("bootstrap rows = %d after restart, want 1", len(got))
	}
}

func TestPersist_CrashMidWriteKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	histPath := filepath.Join(dir, "history.csv")
	if err := os.WriteFile(histPath, []byte(historyCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	snapPath := filepath.Join(dir, "database.db")

	s, err := Open(snapPath, histPath, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash that left a half-written temp file behind.
	if err := os.WriteFile(snapPath+".tmp", []byte("{\"patien"), 0o600); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(snapPath, histPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen with stale temp file: %v", err)
	}
	if got := s2.GetTestResults("822825"); len(got) != 1 {
		t.Errorf("rows = %d, want 1", len(got))
	}
}

func TestOpen_CorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "database.db")
	if err := os.WriteFile(snapPath, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(snapPath, "", zerolog.Nop()); err == nil {
		t.Fatal("Open() on corrupt snapshot must fail")
	}
}

func TestReadmitCancelsQueuedDischarge(t *testing.T) {
	s := newTestStore(t)

	s.InsertPatient("500", 45, "F")
	s.DischargePatient("500")
	s.InsertPatient("500", 45, "F") // readmitted before persist

	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetPatient("500"); !ok {
		t.Error("readmitted patient missing")
	}
}
