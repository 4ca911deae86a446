// Package calibration maintains per-sensor zero offsets. Offsets are added
// to raw readings before they reach dashboards or the data log; the store
// persists them as YAML so they survive restarts.
package calibration

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Service is the offset store. All methods are safe for concurrent use;
// mutations persist to disk before returning.
type Service struct {
	path string

	mu      sync.RWMutex
	offsets map[string]float64
}

// Open loads the offset file at path, starting empty when it does not exist.
func Open(path string) (*Service, error) {
	s := &Service{path: path, offsets: make(map[string]float64)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("calibration: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &s.offsets); err != nil {
		return nil, fmt.Errorf("calibration: parse %s: %w", path, err)
	}
	if s.offsets == nil {
		s.offsets = make(map[string]float64)
	}
	return s, nil
}

// Offsets returns a copy of the current offset map.
func (s *Service) Offsets() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.offsets))
	for k, v := range s.offsets {
		out[k] = v
	}
	return out
}

// Offset returns the offset for one sensor (0 when unset).
func (s *Service) Offset(sensorID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsets[sensorID]
}

// Set merges the given offsets into the store and persists.
func (s *Service) Set(partial map[string]float64) error {
	for id, v := range partial {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("calibration: %s: offset must be finite", id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range partial {
		s.offsets[id] = v
	}
	return s.saveLocked()
}

// Zero sets the offset for one sensor so its current raw reading maps to zero.
func (s *Service) Zero(sensorID string, raw float64) error {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return fmt.Errorf("calibration: %s: raw reading must be finite", sensorID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[sensorID] = -raw
	return s.saveLocked()
}

// ZeroAll zeroes every sensor in the given raw reading map.
func (s *Service) ZeroAll(rawByID map[string]float64) error {
	for id, raw := range rawByID {
		if math.IsNaN(raw) || math.IsInf(raw, 0) {
			return fmt.Errorf("calibration: %s: raw reading must be finite", id)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, raw := range rawByID {
		s.offsets[id] = -raw
	}
	return s.saveLocked()
}

// Reset clears every offset and persists the empty map.
func (s *Service) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = make(map[string]float64)
	return s.saveLocked()
}

// Apply returns a copy of the frame with offsets added to every analog
// reading. Valve states are untouched.
func (s *Service) Apply(frame model.SensorFrame) model.SensorFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := frame
	out.PT = applyCategory(frame.PT, "pt", s.offsets)
	out.TC = applyCategory(frame.TC, "tc", s.offsets)
	out.LC = applyCategory(frame.LC, "lc", s.offsets)
	return out
}

func applyCategory(vals []float64, category string, offsets map[string]float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v + offsets[fmt.Sprintf("%s_%d", category, i+1)]
	}
	return out
}

// saveLocked writes the offset map atomically: temp file, sync, rename.
// Caller holds s.mu.
func (s *Service) saveLocked() error {
	raw, err := yaml.Marshal(s.offsets)
	if err != nil {
		return fmt.Errorf("calibration: marshal: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("calibration: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".calibration-*.yaml")
	if err != nil {
		return fmt.Errorf("calibration: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("calibration: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("calibration: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("calibration: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("calibration: rename: %w", err)
	}
	return nil
}
