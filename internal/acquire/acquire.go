package acquire

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/drivetrain-rt/drivetrain/internal/driver"
)

// Source kinds accepted by New.
const (
	KindSynthetic = "synthetic"
	KindSysload   = "sysload"
)

// New builds an acquirer by kind name.
func New(kind string) (driver.Acquirer, error) {
	switch kind {
	case KindSynthetic:
		return NewSynthetic(), nil
	case KindSysload:
		return NewSysload(), nil
	default:
		return nil, fmt.Errorf("acquire: unknown source kind %q", kind)
	}
}

// Synthetic produces a deterministic sine waveform. Faults can be
// injected at runtime, which the fault gate machinery upstream reacts to.
type Synthetic struct {
	step    atomic.Uint64
	failing atomic.Bool
}

// NewSynthetic creates a synthetic source starting at phase zero.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// SetFailing toggles fault injection; while set, every Acquire fails.
func (s *Synthetic) SetFailing(v bool) {
	s.failing.Store(v)
}

// Acquire implements driver.Acquirer.
func (s *Synthetic) Acquire(_ context.Context) (float64, error) {
	n := s.step.Add(1)
	if s.failing.Load() {
		return 0, fmt.Errorf("acquire: injected fault at step %d", n)
	}
	// One full cycle every 100 reads.
	return math.Sin(2 * math.Pi * float64(n) / 100), nil
}

// Sysload reads the 1-minute load average from /proc/loadavg.
type Sysload struct {
	path string
}

// NewSysload creates a system load source.
func NewSysload() *Sysload {
	return &Sysload{path: "/proc/loadavg"}
}

// Acquire implements driver.Acquirer.
func (s *Sysload) Acquire(_ context.Context) (float64, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, fmt.Errorf("acquire: read %s: %w", s.path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("acquire: %s is empty", s.path)
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("acquire: parse %s: %w", s.path, err)
	}
	return v, nil
}
