package source

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Simulator generates plausible frames within each sensor's configured
// range, with occasional excursions past the warning threshold and random
// valve toggles, so dashboards and threshold events can be exercised
// without hardware.
type Simulator struct {
	sensors config.Sensors

	mu      sync.Mutex
	rng     *rand.Rand
	started time.Time
	valves  []bool
	phase   []float64
}

// NewSimulator creates a simulator for the given sensor configuration.
// A non-zero seed makes the frame sequence reproducible.
func NewSimulator(sensors config.Sensors, seed int64) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	counts := sensors.Counts()
	rng := rand.New(rand.NewSource(seed))
	phase := make([]float64, counts.PT+counts.TC+counts.LC)
	for i := range phase {
		phase[i] = rng.Float64() * 2 * math.Pi
	}
	return &Simulator{
		sensors: sensors,
		rng:     rng,
		valves:  make([]bool, counts.FCV),
		phase:   phase,
	}
}

// Initialize records the simulation epoch.
func (s *Simulator) Initialize(context.Context) error {
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	return nil
}

// ReadFrame synthesizes one frame: a slow sine per sensor plus noise, a
// ~0.5% chance per sensor of a spike past its warning threshold, and a ~1%
// chance per valve of toggling.
func (s *Simulator) ReadFrame(context.Context) (model.SensorFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(s.started).Seconds()

	analog := s.sensors.Analog()
	values := make([]float64, len(analog))
	for i, sensor := range analog {
		mid := (sensor.Min + sensor.Max) / 2
		amp := (sensor.Max - sensor.Min) * 0.15
		v := mid + amp*math.Sin(elapsed/10+s.phase[i]) + s.rng.NormFloat64()*amp*0.05
		if s.rng.Float64() < 0.005 {
			v = sensor.Warning + s.rng.Float64()*(sensor.Max-sensor.Warning)
		}
		values[i] = clamp(v, sensor.Min, sensor.Max)
	}

	for i := range s.valves {
		if s.rng.Float64() < 0.01 {
			s.valves[i] = !s.valves[i]
		}
	}

	counts := s.sensors.Counts()
	frame := model.SensorFrame{
		PT:              values[:counts.PT],
		TC:              values[counts.PT : counts.PT+counts.TC],
		LC:              values[counts.PT+counts.TC:],
		FCV:             append([]bool(nil), s.valves...),
		SerialTimestamp: elapsed,
		ReceivedAt:      now,
	}
	return frame, nil
}

// Close is a no-op for the simulator.
func (s *Simulator) Close() error { return nil }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
