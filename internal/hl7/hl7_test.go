package hl7

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	admitMsg     = "MSH|^~\\&|SIMULATION|SOUTH RIVERSIDE|||20240924102800||ADT^A01|||2.5\rPID|1||722269||SAFFRON CURTIS||19891008|F"
	dischargeMsg = "MSH|^~\\&|SIMULATION|SOUTH RIVERSIDE|||20240924153400||ADT^A03|||2.5\rPID|1||853518"
	limsMsg      = "MSH|^~\\&|SIMULATION|SOUTH RIVERSIDE|||20240924153600||ORU^R01|||2.5\rPID|1||54229\rOBR|1||||||20240924153600\rOBX|1|SN|CREATININE||103.56923163550283"
)

func TestClassify_Admit(t *testing.T) {
	msg, err := Parse([]byte(admitMsg))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	now := time.Date(2024, 9, 24, 10, 28, 0, 0, time.UTC)
	res, err := Classify(msg, now)
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Category != CategoryAdmit {
		t.Errorf("Category = %q, want %q", res.Category, CategoryAdmit)
	}
	if res.MRN != "722269" {
		t.Errorf("MRN = %q, want 722269", res.MRN)
	}
	// Born 1989-10-08; on 2024-09-24 the birthday has not passed yet.
	if res.Age != 34 {
		t.Errorf("Age = %d, want 34", res.Age)
	}
	if res.Sex != "F" {
		t.Errorf("Sex = %q, want F", res.Sex)
	}
}

func TestClassify_Discharge(t *testing.T) {
	msg, err := Parse([]byte(dischargeMsg))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	res, err := Classify(msg, time.Now())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Category != CategoryDischarge {
		t.Errorf("Category = %q, want %q", res.Category, CategoryDischarge)
	}
	if res.MRN != "853518" {
		t.Errorf("MRN = %q, want 853518", res.MRN)
	}
}

func TestClassify_LIMS(t *testing.T) {
	msg, err := Parse([]byte(limsMsg))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	res, err := Classify(msg, time.Now())
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if res.Category != CategoryLIMS {
		t.Errorf("Category = %q, want %q", res.Category, CategoryLIMS)
	}
	if res.MRN != "54229" {
		t.Errorf("MRN = %q, want 54229", res.MRN)
	}
	if res.TestDate != "20240924153600" {
		t.Errorf("TestDate = %q", res.TestDate)
	}
	if res.Creatinine != 103.56923163550283 {
		t.Errorf("Creatinine = %v", res.Creatinine)
	}
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"incomplete MSH only", "MSH|...|..."},
		{"LIMS missing OBX value", "MSH|1\rPID|1||42\rOBR|1||||||20240924153600\rOBX|1|SN"},
		{"LIMS non-numeric value", "MSH|1\rPID|1||42\rOBR|1||||||20240924153600\rOBX|1|SN|CREATININE||abc"},
		{"admit bad dob", "MSH|1\rPID|1||42||NAME||1989|F"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.raw))
			if err != nil {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("Parse() error is %T, want *ParseError", err)
				}
				return
			}
			if _, err := Classify(msg, time.Now()); err == nil {
				t.Fatal("Classify() expected error")
			} else {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("Classify() error is %T, want *ParseError", err)
				}
			}
		})
	}
}

func TestAgeFromDOB(t *testing.T) {
	now := time.Date(2024, 9, 24, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		dob  string
		want int
	}{
		{"19891008", 34}, // birthday later this year
		{"19890924", 35}, // birthday today
		{"19890801", 35}, // birthday passed
		{"20240924", 0},
	}
	for _, tt := range tests {
		got, err := AgeFromDOB(tt.dob, now)
		if err != nil {
			t.Fatalf("AgeFromDOB(%q) error: %v", tt.dob, err)
		}
		if got != tt.want {
			t.Errorf("AgeFromDOB(%q) = %d, want %d", tt.dob, got, tt.want)
		}
	}
}

func TestAcknowledgement(t *testing.T) {
	now := time.Date(2024, 9, 24, 15, 36, 0, 0, time.UTC)
	ack := string(Acknowledgement(now))

	if !strings.HasPrefix(ack, "MSH|^~\\&|||||20240924153600||ACK||P|2.5\r") {
		t.Errorf("ack header = %q", ack)
	}
	if !strings.Contains(ack, "MSA|AA|") {
		t.Errorf("ack missing MSA|AA|: %q", ack)
	}

	// The ACK itself must parse as a valid two-segment HL7 message.
	msg, err := Parse([]byte(ack))
	if err != nil {
		t.Fatalf("Parse(ack) error: %v", err)
	}
	if len(msg.Segments) != 2 {
		t.Fatalf("ack has %d segments, want 2", len(msg.Segments))
	}
	if msg.Segments[1][0] != "MSA" || msg.Segments[1][1] != "AA" {
		t.Errorf("MSA segment = %v", msg.Segments[1])
	}
}
