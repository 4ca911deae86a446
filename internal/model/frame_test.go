package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfire-labs/blastwatch/internal/model"
)

func TestSensorFrameValidate(t *testing.T) {
	counts := model.SensorCounts{PT: 2, TC: 1, LC: 1, FCV: 2}

	frame := model.SensorFrame{
		PT:  []float64{100.5, 99.1},
		TC:  []float64{21.3},
		LC:  []float64{0.2},
		FCV: []bool{true, false},
	}
	require.NoError(t, frame.Validate(counts))

	frame.TC = nil
	err := frame.Validate(counts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tc")
}

func TestCSVHeader(t *testing.T) {
	counts := model.SensorCounts{PT: 2, TC: 1, LC: 1, FCV: 1}
	got := model.CSVHeader(counts)
	assert.Equal(t, "serial_timestamp,system_timestamp,pt_1,pt_2,tc_1,lc_1,fcv_1", got)
}

func TestCSVRowMatchesHeader(t *testing.T) {
	counts := model.SensorCounts{PT: 2, TC: 1, LC: 1, FCV: 2}
	frame := model.SensorFrame{
		PT:              []float64{100.5, 99},
		TC:              []float64{21.25},
		LC:              []float64{0.5},
		FCV:             []bool{true, false},
		SerialTimestamp: 12.345,
		ReceivedAt:      time.Unix(1700000000, 500_000_000),
	}

	row := frame.CSVRow()
	cols := strings.Split(row, ",")
	header := strings.Split(model.CSVHeader(counts), ",")
	require.Len(t, cols, len(header))

	assert.Equal(t, "12.345", cols[0])
	assert.Equal(t, "1700000000.500", cols[1])
	assert.Equal(t, "100.5", cols[2])
	assert.Equal(t, "1", cols[6])
	assert.Equal(t, "0", cols[7])
}

func TestFrameValue(t *testing.T) {
	frame := model.SensorFrame{
		PT: []float64{10, 20},
		TC: []float64{30},
	}

	v, ok := frame.Value("pt_2")
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	v, ok = frame.Value("tc_1")
	require.True(t, ok)
	assert.Equal(t, 30.0, v)

	_, ok = frame.Value("pt_3")
	assert.False(t, ok)
	_, ok = frame.Value("bogus")
	assert.False(t, ok)
	_, ok = frame.Value("fcv_1")
	assert.False(t, ok)
}

func TestSplitSensorID(t *testing.T) {
	cat, idx, ok := model.SplitSensorID("lc_4")
	require.True(t, ok)
	assert.Equal(t, "lc", cat)
	assert.Equal(t, 4, idx)

	_, _, ok = model.SplitSensorID("lc_")
	assert.False(t, ok)
	_, _, ok = model.SplitSensorID("_4")
	assert.False(t, ok)
	_, _, ok = model.SplitSensorID("nounderscore")
	assert.False(t, ok)
}
