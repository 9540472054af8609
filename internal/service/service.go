// Package service runs the alerting loop: read one HL7 message, update the
// patient store, classify lab results, page on positives, persist, then ACK.
// Acknowledgement is the commit point; everything durable happens before it.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/careflow/akimon/internal/features"
	"github.com/careflow/akimon/internal/hl7"
	"github.com/careflow/akimon/internal/metrics"
	"github.com/careflow/akimon/internal/mllp"
	"github.com/careflow/akimon/internal/pager"
	"github.com/careflow/akimon/internal/predict"
	"github.com/careflow/akimon/internal/store"
)

const (
	// Default demographics for a lab result on a never-admitted patient.
	defaultAge = 35
	defaultSex = "F"
)

// Service owns the message loop and coordinates the pipeline components.
type Service struct {
	logger    zerolog.Logger
	client    *mllp.Client
	store     *store.Store
	predictor predict.Predictor
	pager     *pager.Dispatcher
	collector *metrics.Collector

	debug     bool
	predicted []pager.Entry

	// now is swappable for tests.
	now func() time.Time
}

// New assembles a Service from its components.
func New(client *mllp.Client, st *store.Store, predictor predict.Predictor, pg *pager.Dispatcher, collector *metrics.Collector, logger zerolog.Logger, debug bool) *Service {
	return &Service{
		logger:    logger.With().Str("component", "service").Logger(),
		client:    client,
		store:     st,
		predictor: predictor,
		pager:     pg,
		collector: collector,
		debug:     debug,
		now:       time.Now,
	}
}

// Run connects to the message source and processes messages until the context
// is cancelled. A reset connection is re-established; any other read failure
// is logged and the loop keeps going.
func (s *Service) Run(ctx context.Context) error {
	s.collector.SetPhase(metrics.PhaseConnecting)
	s.client.Connect()
	s.collector.SocketConnected()
	s.collector.SetPhase(metrics.PhaseListening)

	// Cancellation unblocks the read by closing the socket.
	go func() {
		<-ctx.Done()
		s.client.Close()
	}()

	for {
		frame, reconnect := s.client.ReadFrame()
		if frame == nil {
			if ctx.Err() != nil {
				break
			}
			if !reconnect {
				// Transient read failure. Only a peer reset warrants a
				// reconnect; everything else just tries the next read.
				s.logger.Warn().Msg("read failed, retrying")
				continue
			}
			s.collector.SetPhase(metrics.PhaseConnecting)
			s.client.Connect()
			s.collector.SocketConnected()
			s.collector.SetPhase(metrics.PhaseListening)
			continue
		}

		start := s.now()
		s.collector.MessageReceived()

		category, err := s.process(mllp.Unframe(frame))
		if err != nil {
			s.collector.RecordError(err)
			var perr *hl7.ParseError
			if errors.As(err, &perr) {
				// An unreadable message is dropped without acknowledgement
				// so the feed knows it was never accepted.
				s.logger.Error().Err(err).Msg("malformed message dropped")
				continue
			}
			s.logger.Error().Err(err).Msg("message processing failed")
		}

		if err := s.store.Persist(); err != nil {
			s.logger.Error().Err(err).Msg("snapshot persist failed")
			s.collector.RecordError(err)
		}

		// Latency is a lab-result metric: the mean and the 3s threshold
		// track creatinine processing, not PAS traffic.
		if category == hl7.CategoryLIMS {
			latency := time.Since(start)
			s.collector.ObserveLatency(latency)
			if latency > 3*time.Second {
				s.logger.Warn().Dur("latency", latency).Msg("slow result")
			}
		}

		if err := s.client.Send(mllp.Frame(hl7.Acknowledgement(s.now()))); err != nil {
			s.logger.Error().Err(err).Msg("ack send failed")
		}
	}

	return s.shutdown()
}

// process handles one unframed HL7 payload and reports which category it was.
func (s *Service) process(payload []byte) (hl7.Category, error) {
	msg, err := hl7.Parse(payload)
	if err != nil {
		return "", err
	}
	res, err := hl7.Classify(msg, s.now())
	if err != nil {
		return "", err
	}

	switch res.Category {
	case hl7.CategoryAdmit:
		return res.Category, s.handleAdmit(res)
	case hl7.CategoryDischarge:
		return res.Category, s.handleDischarge(res)
	case hl7.CategoryLIMS:
		return res.Category, s.handleResult(res)
	}
	return res.Category, fmt.Errorf("unhandled message category %q", res.Category)
}

func (s *Service) handleAdmit(res hl7.Result) error {
	s.store.InsertPatient(res.MRN, res.Age, res.Sex)
	if _, ok := s.store.GetPatient(res.MRN); !ok {
		// One read-back retry before giving up on the write.
		s.store.InsertPatient(res.MRN, res.Age, res.Sex)
		if _, ok := s.store.GetPatient(res.MRN); !ok {
			return fmt.Errorf("admit %s: patient not readable after insert", res.MRN)
		}
	}
	s.collector.PatientAdmitted()
	s.logger.Debug().Str("mrn", res.MRN).Int("age", res.Age).Str("sex", res.Sex).Msg("patient admitted")
	return nil
}

func (s *Service) handleDischarge(res hl7.Result) error {
	s.store.DischargePatient(res.MRN)
	if _, ok := s.store.GetPatient(res.MRN); ok {
		// One read-back retry, mirroring the admit path.
		s.store.DischargePatient(res.MRN)
		if _, ok := s.store.GetPatient(res.MRN); ok {
			return fmt.Errorf("discharge %s: patient still active after discharge", res.MRN)
		}
	}
	s.collector.PatientDischarged()
	s.logger.Debug().Str("mrn", res.MRN).Msg("patient discharged")
	return nil
}

func (s *Service) handleResult(res hl7.Result) error {
	s.collector.BloodTest(res.Creatinine)

	label, err := s.classify(res)
	if err != nil {
		return err
	}

	if label == predict.LabelPositive {
		s.collector.PositiveAKI()
		s.logger.Info().Str("mrn", res.MRN).Str("date", res.TestDate).Msg("positive AKI detected")
		if s.debug {
			s.predicted = append(s.predicted, pager.Entry{MRN: res.MRN, Date: res.TestDate})
		}
		if err := s.pager.Send(res.MRN, res.TestDate); err != nil {
			return fmt.Errorf("page %s: %w", res.MRN, err)
		}
		s.collector.SetPagerBacklog(s.pager.QueueLen())
	}

	s.store.InsertTestResult(res.MRN, res.TestDate, res.Creatinine)
	if _, ok := s.store.GetTestResult(res.MRN, res.TestDate); !ok {
		s.store.InsertTestResult(res.MRN, res.TestDate, res.Creatinine)
		if _, ok := s.store.GetTestResult(res.MRN, res.TestDate); !ok {
			return fmt.Errorf("result %s@%s: not readable after insert", res.MRN, res.TestDate)
		}
	}
	return nil
}

// classify computes the feature row for a lab result and runs the model.
// A result for a patient the service has never seen gets default demographics
// and is treated as negative rather than paging on fabricated features.
func (s *Service) classify(res hl7.Result) (string, error) {
	patient, known := s.store.GetPatient(res.MRN)
	if !known {
		s.logger.Warn().Str("mrn", res.MRN).Msg("lab result for unknown patient, using defaults")
		s.store.InsertPatient(res.MRN, defaultAge, defaultSex)
		return predict.LabelNegative, nil
	}

	history := s.store.GetPatientHistory(res.MRN)
	var row features.Row
	var err error
	if len(history) > 0 {
		row, err = features.Compute(res.Creatinine, res.TestDate, history)
		if err != nil {
			return "", fmt.Errorf("features for %s: %w", res.MRN, err)
		}
	} else {
		row = features.NoHistory(res.Creatinine, patient.Age, patient.Sex)
	}
	return s.predictor.Predict(row), nil
}

// shutdown persists state, closes the socket, and flushes the pager queue.
func (s *Service) shutdown() error {
	s.collector.SetPhase(metrics.PhaseStopped)
	s.logger.Info().Msg("shutting down")

	if err := s.store.Persist(); err != nil {
		s.logger.Error().Err(err).Msg("final persist failed")
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("socket close")
	}
	if err := s.pager.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("pager queue flush failed")
	}

	if s.debug {
		if err := s.WritePredictedCSV("aki_predicted.csv"); err != nil {
			s.logger.Error().Err(err).Msg("write predicted csv failed")
		}
	}
	return nil
}

// WritePredictedCSV dumps the positives seen during a debug run.
func (s *Service) WritePredictedCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"mrn", "date"}); err != nil {
		return err
	}
	for _, e := range s.predicted {
		if err := w.Write([]string{e.MRN, e.Date}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
