package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/bandit"
)

var csvHeader = []string{"round", "measure_name", "value"}

// Sink is anything the round driver loop can hand a completed
// bandit.RoundReport to. ArmStoreSize is passed alongside rather than
// embedded in RoundReport since it's a property of the arm store, not
// of the round itself.
type Sink interface {
	Write(report bandit.RoundReport, armStoreSize int) error
	Close() error
}

// CSVSink appends one row per RoundMetric to a CSV file, in the shape
// spec.md §6 calls the "per-round report record": (round,
// measure_name, value).
type CSVSink struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	flush  bool
	logger *zap.Logger
}

// NewCSVSink opens (truncating) cfg.CSVPath and writes the header row.
func NewCSVSink(cfg Config, logger *zap.Logger) (*CSVSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := os.Create(cfg.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("report: opening %s: %w", cfg.CSVPath, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("report: writing header: %w", err)
	}
	w.Flush()
	return &CSVSink{f: f, w: w, flush: cfg.FlushEachRound, logger: logger}, nil
}

// Write appends report's metrics as CSV rows.
func (s *CSVSink) Write(report bandit.RoundReport, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range report.Metrics {
		row := []string{
			strconv.Itoa(m.Round),
			m.MeasureName,
			strconv.FormatFloat(m.Value, 'f', -1, 64),
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("report: writing row: %w", err)
		}
	}
	if s.flush {
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			return fmt.Errorf("report: flushing: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// PrometheusSink forwards every round's report to an existing
// bandit.Metrics collector set.
type PrometheusSink struct {
	metrics *bandit.Metrics
}

// NewPrometheusSink wraps an already-registered bandit.Metrics.
func NewPrometheusSink(metrics *bandit.Metrics) *PrometheusSink {
	return &PrometheusSink{metrics: metrics}
}

func (s *PrometheusSink) Write(report bandit.RoundReport, armStoreSize int) error {
	s.metrics.Observe(report, armStoreSize)
	return nil
}

func (s *PrometheusSink) Close() error { return nil }

// MultiSink fans a round report out to every wrapped sink, the way the
// teacher's factory wires independent exporterhelper options onto a
// single exporter rather than branching on config shape at the call
// site.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds the sink set the advisor runs with: a CSV sink
// always, plus a Prometheus sink whenever a registry is supplied.
func NewMultiSink(cfg Config, registry prometheus.Registerer, logger *zap.Logger) (*MultiSink, *bandit.Metrics, error) {
	csvSink, err := NewCSVSink(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	sinks := []Sink{csvSink}

	var metrics *bandit.Metrics
	if registry != nil {
		metrics, err = bandit.NewMetrics(registry)
		if err != nil {
			csvSink.Close()
			return nil, nil, fmt.Errorf("report: registering metrics: %w", err)
		}
		sinks = append(sinks, NewPrometheusSink(metrics))
	}
	return &MultiSink{sinks: sinks}, metrics, nil
}

func (m *MultiSink) Write(report bandit.RoundReport, armStoreSize int) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Write(report, armStoreSize); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
