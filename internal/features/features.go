// Package features computes the derived creatinine features fed to the AKI
// classifier. All functions are pure: a computation depends only on the
// patient's history at the time of the call and the incoming result.
package features

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/careflow/akimon/internal/store"
)

// Window boundaries, in days, for the reference-value paths.
const (
	recentWindowDays = 7
	mediumWindowDays = 365
)

// Row is the feature vector handed to the predictor. Field order is the
// model's feature-order contract:
// age, sex, C1, RV1, RV1_ratio, RV2, RV2_ratio, change_within_48hrs, D.
type Row struct {
	Age            int
	Sex            float64
	C1             float64
	RV1            float64
	RV1Ratio       float64
	RV2            float64
	RV2Ratio       float64
	ChangeWithin48 bool
	D              float64
}

// Vector flattens the row in the model's feature order.
func (r Row) Vector() []float64 {
	change := 0.0
	if r.ChangeWithin48 {
		change = 1
	}
	return []float64{
		float64(r.Age), r.Sex, r.C1,
		r.RV1, r.RV1Ratio, r.RV2, r.RV2Ratio,
		change, r.D,
	}
}

// ParseTimestamp accepts both timestamp layouts seen on the wire and in the
// bootstrap history: %Y%m%d%H%M%S and %Y-%m-%d %H:%M:%S.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{"20060102150405", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// EncodeSex maps the sex letter onto the model's encoding: M/m → 0, F/f → 1.
func EncodeSex(sex string) float64 {
	switch sex {
	case "F", "f":
		return 1
	default:
		return 0
	}
}

// Compute assembles the full feature row for a new result (date d1, value c1)
// against the patient's history. The history excludes the incoming result;
// its last row is the most recent prior test.
func Compute(c1 float64, d1 string, history []store.HistoryRow) (Row, error) {
	if len(history) == 0 {
		return Row{}, fmt.Errorf("empty history")
	}
	row := Row{
		Age: history[0].Age,
		Sex: EncodeSex(history[0].Sex),
	}

	var err error
	row.C1, row.RV1, row.RV1Ratio, row.RV2, row.RV2Ratio, err = referenceValues(c1, d1, history)
	if err != nil {
		return Row{}, err
	}
	row.D, row.ChangeWithin48, err = deltaWithin48h(c1, d1, history)
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

// NoHistory builds the feature row for a patient with no prior tests: the
// incoming value stands alone and every derived feature is zero.
func NoHistory(c1 float64, age int, sex string) Row {
	return Row{Age: age, Sex: EncodeSex(sex), C1: c1}
}

// referenceValues computes C1 and the RV features. diff is the absolute gap
// in fractional days between the incoming result and the most recent
// historical test. Within 7 days the reference is the minimum over the
// entire history; within 365 the median; beyond that all five are zero.
func referenceValues(c1 float64, d1 string, history []store.HistoryRow) (float64, float64, float64, float64, float64, error) {
	t1, err := ParseTimestamp(d1)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	t2, err := ParseTimestamp(history[len(history)-1].Date)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	diff := math.Abs(t2.Sub(t1).Hours() / 24)

	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Result
	}

	switch {
	case diff <= recentWindowDays:
		rv1 := minOf(values)
		return c1, rv1, c1 / rv1, 0, 0, nil
	case diff <= mediumWindowDays:
		rv2 := medianOf(values)
		return c1, 0, 0, rv2, c1 / rv2, nil
	default:
		return 0, 0, 0, 0, 0, nil
	}
}

// deltaWithin48h computes D, the rise of the incoming value over the minimum
// of results dated at least 48 hours before it, and the change flag, set
// when more than one such prior result exists.
func deltaWithin48h(c1 float64, d1 string, history []store.HistoryRow) (float64, bool, error) {
	t1, err := ParseTimestamp(d1)
	if err != nil {
		return 0, false, err
	}
	cutoff := t1.Add(-48 * time.Hour)

	var prior []float64
	for _, h := range history {
		t, err := ParseTimestamp(h.Date)
		if err != nil {
			return 0, false, err
		}
		if !t.After(cutoff) {
			prior = append(prior, h.Result)
		}
	}

	change := len(prior) > 1
	if len(prior) == 0 {
		return 0, change, nil
	}
	return c1 - minOf(prior), change, nil
}

func minOf(values []float64) float64 {
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func medianOf(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
