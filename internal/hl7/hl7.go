// Package hl7 decodes the hospital's HL7 v2 feed and classifies each message
// into the admit/discharge/lab-result categories the alerting loop dispatches
// on. Classification is structural (segment and field counts), not by
// message-type code: the PAS feed emits two-segment fragments that do not
// carry a usable MSH-9.
package hl7

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Category identifies the kind of system message.
type Category string

const (
	CategoryAdmit     Category = "PAS-admit"
	CategoryDischarge Category = "PAS-discharge"
	CategoryLIMS      Category = "LIMS"
)

// Message is a decoded HL7 payload: one slice of pipe-delimited fields per
// segment, in wire order.
type Message struct {
	Segments [][]string
}

// Result is the outcome of classifying a message.
type Result struct {
	Category Category
	MRN      string

	// PAS-admit payload.
	Age int
	Sex string

	// LIMS payload.
	TestDate   string
	Creatinine float64
}

// ParseError describes a structurally invalid message.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "hl7: " + e.Reason
}

func parseErrf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Parse splits a raw HL7 payload into CR-separated segments.
func Parse(payload []byte) (Message, error) {
	raw := strings.ReplaceAll(string(payload), "\r\n", "\r")
	var segments [][]string
	for _, line := range strings.Split(raw, "\r") {
		line = strings.TrimRight(line, "\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		segments = append(segments, strings.Split(line, "|"))
	}
	if len(segments) < 2 {
		return Message{}, parseErrf("message has %d segments, need at least 2", len(segments))
	}
	return Message{Segments: segments}, nil
}

// Classify applies the structural rule: fewer than four segments is a PAS
// event (admit when the PID segment carries more than four fields, discharge
// otherwise); four or more segments is a LIMS result.
func Classify(msg Message, now time.Time) (Result, error) {
	if len(msg.Segments) < 4 {
		pid := msg.Segments[1]
		if len(pid) > 4 {
			return classifyAdmit(pid, now)
		}
		return classifyDischarge(pid)
	}
	return classifyLIMS(msg)
}

func classifyAdmit(pid []string, now time.Time) (Result, error) {
	if len(pid) < 9 {
		return Result{}, parseErrf("PAS-admit PID has %d fields, need 9", len(pid))
	}
	mrn := strings.TrimSpace(pid[3])
	if mrn == "" {
		return Result{}, parseErrf("PAS-admit PID missing MRN")
	}
	age, err := AgeFromDOB(pid[7], now)
	if err != nil {
		return Result{}, err
	}
	sexField := strings.TrimSpace(pid[8])
	if sexField == "" {
		return Result{}, parseErrf("PAS-admit PID missing sex")
	}
	return Result{
		Category: CategoryAdmit,
		MRN:      mrn,
		Age:      age,
		Sex:      sexField[:1],
	}, nil
}

func classifyDischarge(pid []string) (Result, error) {
	if len(pid) < 4 {
		return Result{}, parseErrf("PAS-discharge PID has %d fields, need 4", len(pid))
	}
	mrn := strings.TrimSpace(pid[3])
	if mrn == "" {
		return Result{}, parseErrf("PAS-discharge PID missing MRN")
	}
	return Result{Category: CategoryDischarge, MRN: mrn}, nil
}

func classifyLIMS(msg Message) (Result, error) {
	pid, obr, obx := msg.Segments[1], msg.Segments[2], msg.Segments[3]
	if len(pid) < 4 {
		return Result{}, parseErrf("LIMS PID has %d fields, need 4", len(pid))
	}
	mrn := strings.TrimSpace(pid[3])
	if mrn == "" {
		return Result{}, parseErrf("LIMS PID missing MRN")
	}
	if len(obr) < 8 {
		return Result{}, parseErrf("LIMS OBR has %d fields, need 8", len(obr))
	}
	testDate := strings.TrimSpace(obr[7])
	if testDate == "" {
		return Result{}, parseErrf("LIMS OBR missing observation date-time")
	}
	if len(obx) < 6 {
		return Result{}, parseErrf("LIMS OBX has %d fields, need 6", len(obx))
	}
	creatinine, err := strconv.ParseFloat(strings.TrimSpace(obx[5]), 64)
	if err != nil {
		return Result{}, parseErrf("LIMS OBX value %q is not numeric", obx[5])
	}
	return Result{
		Category:   CategoryLIMS,
		MRN:        mrn,
		TestDate:   testDate,
		Creatinine: creatinine,
	}, nil
}

// AgeFromDOB computes full years between a YYYYMMDD date of birth and now,
// adjusting for whether the birthday has passed this year.
func AgeFromDOB(dob string, now time.Time) (int, error) {
	t, err := time.Parse("20060102", strings.TrimSpace(dob))
	if err != nil {
		return 0, parseErrf("invalid date of birth %q", dob)
	}
	age := now.Year() - t.Year()
	if now.Month() < t.Month() || (now.Month() == t.Month() && now.Day() < t.Day()) {
		age--
	}
	return age, nil
}

// Acknowledgement builds the unframed HL7 ACK for an accepted message.
func Acknowledgement(now time.Time) []byte {
	msg := fmt.Sprintf("MSH|^~\\&|||||%s||ACK||P|2.5\rMSA|AA|\r", now.Format("20060102150405"))
	return []byte(msg)
}
