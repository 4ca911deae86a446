package reader

import (
	"github.com/hotfire-labs/blastwatch/internal/config"
	"github.com/hotfire-labs/blastwatch/internal/model"
)

type zone string

const (
	zoneNormal  zone = "normal"
	zoneWarning zone = "warning"
	zoneDanger  zone = "danger"
)

func zoneFor(v float64, s config.Sensor) zone {
	switch {
	case v >= s.Danger:
		return zoneDanger
	case v >= s.Warning:
		return zoneWarning
	default:
		return zoneNormal
	}
}

// thresholdWatcher tracks each analog sensor's threshold zone and emits one
// event per transition. Only the reader loop touches it, so no locking.
type thresholdWatcher struct {
	sensors []config.Sensor
	zones   map[string]zone
}

func newThresholdWatcher(sensors config.Sensors) *thresholdWatcher {
	analog := sensors.Analog()
	zones := make(map[string]zone, len(analog))
	for _, s := range analog {
		zones[s.ID] = zoneNormal
	}
	return &thresholdWatcher{sensors: analog, zones: zones}
}

// check compares the adjusted frame against each sensor's thresholds and
// reports zone changes through the event sink.
func (w *thresholdWatcher) check(frame model.SensorFrame, sink Sink) {
	for _, s := range w.sensors {
		v, ok := frame.Value(s.ID)
		if !ok {
			continue
		}
		next := zoneFor(v, s)
		prev := w.zones[s.ID]
		if next == prev {
			continue
		}
		w.zones[s.ID] = next
		sink.Event("threshold_crossed", zoneSeverity(next), map[string]any{
			"sensor_id": s.ID,
			"sensor":    s.Name,
			"value":     v,
			"zone":      string(next),
			"previous":  string(prev),
		})
	}
}

func zoneSeverity(z zone) model.Level {
	switch z {
	case zoneDanger:
		return model.LevelCritical
	case zoneWarning:
		return model.LevelWarning
	default:
		return model.LevelInfo
	}
}
