package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// bootstrapCSV populates the test_results table from the history CSV. Each
// row is `mrn, date_1, result_1, date_2, result_2, …` with variable length
// and trailing empty cells. The patients table is not populated here:
// patients materialize only via PAS-admit or the LIMS default fallback.
func (s *Store) bootstrapCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read history csv: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		if len(row) < 1 {
			continue
		}
		mrn := row[0]
		for j := 1; j+1 < len(row); j += 2 {
			result, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return fmt.Errorf("row %d: result %q is not numeric: %w", i+1, row[j+1], err)
			}
			s.insertTestResultLocked(mrn, row[j], result)
		}
	}
	return nil
}
