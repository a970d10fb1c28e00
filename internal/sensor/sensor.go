// Package sensor provides the readings a device publishes and the actuators
// that cloud-to-device commands drive.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrUnknownKind = errors.New("sensor: unknown kind")
	ErrPathMissing = errors.New("sensor: path required")
	ErrBadSample   = errors.New("sensor: malformed sample")
)

const (
	KindSimulated = "simulated"
	KindSysfs     = "sysfs"
	KindTMP36     = "tmp36"

	// TMP36 wiring on a 10-bit ADC referenced to 3.3 V.
	ADCMax          = 1023
	ADCReference    = 3.3
	TMP36Correction = 4.0
)

// Reading is the JSON body a device sends for one sample.
type Reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

type Sensor interface {
	Name() string
	Read(ctx context.Context) (float64, error)
}

// New builds the sensor named by kind. path is the sysfs file for the
// file-backed kinds and ignored for the simulated one.
func New(kind, name, path string) (Sensor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "temperature"
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindSimulated:
		return NewSimulated(name, 21.0, nil), nil
	case KindSysfs:
		if strings.TrimSpace(path) == "" {
			return nil, ErrPathMissing
		}
		return &Sysfs{name: name, path: path, scale: 1000}, nil
	case KindTMP36:
		if strings.TrimSpace(path) == "" {
			return nil, ErrPathMissing
		}
		return &TMP36{name: name, path: path}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Simulated is a bounded random walk around its start value.
type Simulated struct {
	name string

	mu    sync.Mutex
	value float64
	min   float64
	max   float64
	rng   *rand.Rand
}

// NewSimulated starts at start and stays within ±10 of it. rng may be nil.
func NewSimulated(name string, start float64, rng *rand.Rand) *Simulated {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Simulated{name: name, value: start, min: start - 10, max: start + 10, rng: rng}
}

func (s *Simulated) Name() string {
	return s.name
}

func (s *Simulated) Read(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value += s.rng.Float64() - 0.5
	if s.value < s.min {
		s.value = s.min
	}
	if s.value > s.max {
		s.value = s.max
	}
	return s.value, nil
}

// Sysfs reads an integer file and divides it by scale, e.g. millidegrees
// from /sys/class/thermal/thermal_zone0/temp.
type Sysfs struct {
	name  string
	path  string
	scale float64
}

func (s *Sysfs) Name() string {
	return s.name
}

func (s *Sysfs) Read(ctx context.Context) (float64, error) {
	raw, err := readInt(ctx, s.path)
	if err != nil {
		return 0, err
	}
	return float64(raw) / s.scale, nil
}

// TMP36 reads a raw ADC count, such as an IIO in_voltageN_raw file, and
// converts it to degrees Celsius.
type TMP36 struct {
	name string
	path string
}

func (s *TMP36) Name() string {
	return s.name
}

func (s *TMP36) Read(ctx context.Context) (float64, error) {
	raw, err := readInt(ctx, s.path)
	if err != nil {
		return 0, err
	}
	if raw <= 0 || raw > ADCMax {
		return 0, fmt.Errorf("%w: adc count %d out of range", ErrBadSample, raw)
	}
	return TMP36Celsius(uint16(raw)), nil
}

// TMP36Celsius converts a 10-bit ADC count into degrees Celsius.
func TMP36Celsius(raw uint16) float64 {
	volts := float64(raw) / ADCMax * ADCReference
	return (volts*1000-500)/10 + TMP36Correction
}

func readInt(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("sensor: read %s: %w", path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBadSample, path, err)
	}
	return v, nil
}
