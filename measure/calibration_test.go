package measure

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cubiaa/yolo-distance/yolo"
)

func det(label string, x, y, w, h float64) yolo.Detection {
	return yolo.Detection{Label: label, Confidence: 0.9, Box: yolo.Box{XCenter: x, YCenter: y, Width: w, Height: h}}
}

func TestNewCalibratorRejectsInvalidReference(t *testing.T) {
	for _, tt := range []struct {
		name  string
		label string
		width float64
	}{
		{"zero width", "scale", 0},
		{"negative width", "scale", -10},
		{"empty label", "", 300},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cal, err := NewCalibrator(tt.label, tt.width)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidReference))
			assert.Nil(t, cal)
		})
	}
}

func TestCalibratorRatio(t *testing.T) {
	cal, err := NewCalibrator("scale", 300)
	require.NoError(t, err)

	assert.Equal(t, NotFound, cal.Update(nil))
	assert.Equal(t, NotFound, cal.Update([]yolo.Detection{det("bolt", 10, 10, 20, 20)}))
	assert.False(t, cal.Calibrated())

	assert.Equal(t, NewlyCalibrated, cal.Update([]yolo.Detection{
		det("bolt", 10, 10, 20, 20),
		det("scale", 50, 50, 150, 40),
	}))
	ratio, ok := cal.PixelPerMM()
	require.True(t, ok)
	assert.InDelta(t, 0.5, ratio, 1e-9)
}

func TestCalibratorFirstObservationWins(t *testing.T) {
	cal, err := NewCalibrator("scale", 300)
	require.NoError(t, err)

	require.Equal(t, NewlyCalibrated, cal.Update([]yolo.Detection{
		det("scale", 0, 0, 150, 10),
		det("scale", 0, 0, 600, 10),
	}))

	for _, w := range []float64{30, 900, 150.5} {
		assert.Equal(t, AlreadyCalibrated, cal.Update([]yolo.Detection{det("scale", 0, 0, w, 10)}))
	}
	ratio, _ := cal.PixelPerMM()
	assert.InDelta(t, 0.5, ratio, 1e-9)
}

func TestCalibratorIgnoresDegenerateBox(t *testing.T) {
	cal, err := NewCalibrator("scale", 300)
	require.NoError(t, err)

	assert.Equal(t, NotFound, cal.Update([]yolo.Detection{det("scale", 0, 0, 0, 10)}))
	assert.False(t, cal.Calibrated())
}

func TestCalibrationStatusString(t *testing.T) {
	assert.Equal(t, "already_calibrated", AlreadyCalibrated.String())
	assert.Equal(t, "CalibrationStatus(9)", CalibrationStatus(9).String())
}
