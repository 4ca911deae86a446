package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

// Sensor describes one configured sensor: its id ("pt_1"), display name,
// expected range, and alert thresholds. Valves (fcv) carry no thresholds.
type Sensor struct {
	ID      string  `yaml:"id"`
	Name    string  `yaml:"name"`
	Units   string  `yaml:"units"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Warning float64 `yaml:"warning"`
	Danger  float64 `yaml:"danger"`
}

// Sensors is the full sensor configuration, one list per category.
type Sensors struct {
	PT  []Sensor `yaml:"pt"`
	TC  []Sensor `yaml:"tc"`
	LC  []Sensor `yaml:"lc"`
	FCV []Sensor `yaml:"fcv"`
}

// Counts returns the per-category sensor counts.
func (s Sensors) Counts() model.SensorCounts {
	return model.SensorCounts{PT: len(s.PT), TC: len(s.TC), LC: len(s.LC), FCV: len(s.FCV)}
}

// Analog returns all sensors with numeric readings (everything except valves).
func (s Sensors) Analog() []Sensor {
	out := make([]Sensor, 0, len(s.PT)+len(s.TC)+len(s.LC))
	out = append(out, s.PT...)
	out = append(out, s.TC...)
	out = append(out, s.LC...)
	return out
}

// LoadSensors reads and validates the YAML sensor configuration.
func LoadSensors(path string) (Sensors, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Sensors{}, fmt.Errorf("config: read sensor config: %w", err)
	}
	var s Sensors
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Sensors{}, fmt.Errorf("config: parse sensor config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Sensors{}, err
	}
	return s, nil
}

// Validate checks id uniqueness and threshold ordering. Invalid sensor
// configuration is a startup failure, not something to limp past.
func (s Sensors) Validate() error {
	if len(s.PT)+len(s.TC)+len(s.LC)+len(s.FCV) == 0 {
		return fmt.Errorf("config: sensor config defines no sensors")
	}
	seen := make(map[string]bool)
	check := func(list []Sensor, analog bool) error {
		for _, sn := range list {
			if sn.ID == "" {
				return fmt.Errorf("config: sensor with empty id")
			}
			if seen[sn.ID] {
				return fmt.Errorf("config: duplicate sensor id %q", sn.ID)
			}
			seen[sn.ID] = true
			if !analog {
				continue
			}
			if sn.Min >= sn.Max {
				return fmt.Errorf("config: sensor %s: min must be below max", sn.ID)
			}
			if sn.Warning > sn.Danger {
				return fmt.Errorf("config: sensor %s: warning threshold above danger threshold", sn.ID)
			}
		}
		return nil
	}
	if err := check(s.PT, true); err != nil {
		return err
	}
	if err := check(s.TC, true); err != nil {
		return err
	}
	if err := check(s.LC, true); err != nil {
		return err
	}
	return check(s.FCV, false)
}
