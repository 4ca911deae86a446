package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SensorCounts is the number of sensors per category, derived from the
// sensor configuration. CSV column layout and frame validation both key
// off these counts.
type SensorCounts struct {
	PT  int
	TC  int
	LC  int
	FCV int
}

// SensorFrame is one telemetry sample from the serial link or the simulator.
// The wire form is one JSON object per line.
type SensorFrame struct {
	PT              []float64 `json:"pt"`
	TC              []float64 `json:"tc"`
	LC              []float64 `json:"lc"`
	FCV             []bool    `json:"fcv"`
	SerialTimestamp float64   `json:"serial_timestamp"`
	ReceivedAt      time.Time `json:"received_at"`
}

// Validate checks the frame's array lengths against the configured counts.
func (f SensorFrame) Validate(counts SensorCounts) error {
	if len(f.PT) != counts.PT {
		return fmt.Errorf("frame: expected %d pt values, got %d", counts.PT, len(f.PT))
	}
	if len(f.TC) != counts.TC {
		return fmt.Errorf("frame: expected %d tc values, got %d", counts.TC, len(f.TC))
	}
	if len(f.LC) != counts.LC {
		return fmt.Errorf("frame: expected %d lc values, got %d", counts.LC, len(f.LC))
	}
	if len(f.FCV) != counts.FCV {
		return fmt.Errorf("frame: expected %d fcv values, got %d", counts.FCV, len(f.FCV))
	}
	return nil
}

// Value returns the reading for a sensor id of the form "pt_1", "tc_3", etc.
// The second return is false when the id is unknown or out of range.
func (f SensorFrame) Value(sensorID string) (float64, bool) {
	cat, idx, ok := SplitSensorID(sensorID)
	if !ok {
		return 0, false
	}
	var vals []float64
	switch cat {
	case "pt":
		vals = f.PT
	case "tc":
		vals = f.TC
	case "lc":
		vals = f.LC
	default:
		return 0, false
	}
	if idx < 1 || idx > len(vals) {
		return 0, false
	}
	return vals[idx-1], true
}

// SplitSensorID parses "pt_1" into ("pt", 1, true).
func SplitSensorID(id string) (category string, index int, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:i], n, true
}

// CSVHeader builds the fixed data-channel header for the configured counts:
// serial_timestamp, system_timestamp, then one column per sensor.
func CSVHeader(counts SensorCounts) string {
	cols := make([]string, 0, 2+counts.PT+counts.TC+counts.LC+counts.FCV)
	cols = append(cols, "serial_timestamp", "system_timestamp")
	for i := 1; i <= counts.PT; i++ {
		cols = append(cols, fmt.Sprintf("pt_%d", i))
	}
	for i := 1; i <= counts.TC; i++ {
		cols = append(cols, fmt.Sprintf("tc_%d", i))
	}
	for i := 1; i <= counts.LC; i++ {
		cols = append(cols, fmt.Sprintf("lc_%d", i))
	}
	for i := 1; i <= counts.FCV; i++ {
		cols = append(cols, fmt.Sprintf("fcv_%d", i))
	}
	return strings.Join(cols, ",")
}

// CSVRow serializes the frame as one data-channel row matching CSVHeader's
// column order. Valve states are written as 1/0.
func (f SensorFrame) CSVRow() string {
	var b strings.Builder
	b.Grow(16 * (2 + len(f.PT) + len(f.TC) + len(f.LC) + len(f.FCV)))
	b.WriteString(strconv.FormatFloat(f.SerialTimestamp, 'f', 3, 64))
	b.WriteByte(',')
	sysTS := float64(f.ReceivedAt.UnixNano()) / 1e9
	b.WriteString(strconv.FormatFloat(sysTS, 'f', 3, 64))
	for _, v := range f.PT {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range f.TC {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range f.LC {
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	for _, v := range f.FCV {
		if v {
			b.WriteString(",1")
		} else {
			b.WriteString(",0")
		}
	}
	return b.String()
}

// Snapshot is the latest calibrated reading served to dashboards. Raw holds
// the frame as received; Adjusted has per-sensor offsets applied.
type Snapshot struct {
	Raw       SensorFrame `json:"raw"`
	Adjusted  SensorFrame `json:"adjusted"`
	UpdatedAt time.Time   `json:"updated_at"`
}
