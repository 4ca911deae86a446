package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleSensors = `
pt:
  - {id: pt_1, name: "Chamber Pressure", units: psi, min: 0, max: 1500, warning: 1000, danger: 1300}
  - {id: pt_2, name: "Tank Pressure", units: psi, min: 0, max: 800, warning: 600, danger: 750}
tc:
  - {id: tc_1, name: "Nozzle Temp", units: C, min: -50, max: 1200, warning: 800, danger: 1000}
lc:
  - {id: lc_1, name: "Thrust", units: lbf, min: -10, max: 500, warning: 400, danger: 480}
fcv:
  - {id: fcv_1, name: "Main Valve"}
  - {id: fcv_2, name: "Purge Valve"}
`

func writeSensorFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write sensor file: %v", err)
	}
	return path
}

func TestLoadSensors(t *testing.T) {
	s, err := LoadSensors(writeSensorFile(t, sampleSensors))
	if err != nil {
		t.Fatalf("LoadSensors: %v", err)
	}

	counts := s.Counts()
	if counts.PT != 2 || counts.TC != 1 || counts.LC != 1 || counts.FCV != 2 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if got := len(s.Analog()); got != 4 {
		t.Fatalf("expected 4 analog sensors, got %d", got)
	}
	if s.PT[0].Danger != 1300 {
		t.Fatalf("expected pt_1 danger 1300, got %f", s.PT[0].Danger)
	}
}

func TestLoadSensorsMissingFile(t *testing.T) {
	if _, err := LoadSensors(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSensorsValidateDuplicateID(t *testing.T) {
	dup := `
pt:
  - {id: pt_1, name: a, min: 0, max: 10, warning: 5, danger: 8}
  - {id: pt_1, name: b, min: 0, max: 10, warning: 5, danger: 8}
`
	if _, err := LoadSensors(writeSensorFile(t, dup)); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestSensorsValidateThresholdOrder(t *testing.T) {
	bad := `
pt:
  - {id: pt_1, name: a, min: 0, max: 10, warning: 9, danger: 5}
`
	if _, err := LoadSensors(writeSensorFile(t, bad)); err == nil {
		t.Fatal("expected threshold ordering error")
	}
}

func TestSensorsValidateEmpty(t *testing.T) {
	if _, err := LoadSensors(writeSensorFile(t, "{}")); err == nil {
		t.Fatal("expected error for empty sensor config")
	}
}

func TestSensorsValidateMinMax(t *testing.T) {
	bad := `
tc:
  - {id: tc_1, name: a, min: 100, max: 10, warning: 5, danger: 8}
`
	if _, err := LoadSensors(writeSensorFile(t, bad)); err == nil {
		t.Fatal("expected min/max error")
	}
}
