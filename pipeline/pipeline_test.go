package pipeline

import (
	"context"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Cubiaa/yolo-distance/measure"
	"github.com/Cubiaa/yolo-distance/source"
	"github.com/Cubiaa/yolo-distance/yolo"
)

type fakeSource struct {
	frames  int
	openErr error
	readErr error // 读完 frames 帧后返回
	pulls   int
	opened  bool
	closed  int
}

func (f *fakeSource) Open(context.Context) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeSource) Next() (image.Image, error) {
	f.pulls++
	if f.pulls > f.frames {
		if f.readErr != nil {
			return nil, f.readErr
		}
		return nil, io.EOF
	}
	return image.NewRGBA(image.Rect(0, 0, 500, 200)), nil
}

func (f *fakeSource) Properties() source.Properties {
	return source.Properties{Width: 500, Height: 200, FPS: 25}
}

func (f *fakeSource) Close() error {
	f.closed++
	return nil
}

func (f *fakeSource) Name() string { return "fake" }

type fakeDetector struct {
	script func(frame int) []yolo.Detection
	failAt int
	calls  int
	hook   func(frame int)
}

func (f *fakeDetector) Detect(img image.Image) ([]yolo.Detection, *image.RGBA, error) {
	f.calls++
	if f.hook != nil {
		f.hook(f.calls)
	}
	if f.failAt == f.calls {
		return nil, nil, errors.New("inference failed")
	}
	var dets []yolo.Detection
	if f.script != nil {
		dets = f.script(f.calls)
	}
	return dets, nil, nil
}

type fakeSink struct {
	props  source.Properties
	path   string
	writes []*image.RGBA
	closed int
}

func (f *fakeSink) Write(img image.Image) error {
	f.writes = append(f.writes, img.(*image.RGBA))
	return nil
}

func (f *fakeSink) Close() error {
	f.closed++
	return nil
}

func (f *fakeSink) factory() SinkFactory {
	return func(path string, props source.Properties) (Sink, error) {
		f.path = path
		f.props = props
		return f, nil
	}
}

type stopAfter struct {
	n     int
	polls int
}

func (s *stopAfter) Stopped() bool {
	s.polls++
	return s.polls > s.n
}

type recordingDisplay struct{ shown int }

func (d *recordingDisplay) Show(image.Image) { d.shown++ }

func det(label string, x, y, w float64) yolo.Detection {
	return yolo.Detection{Label: label, Confidence: 0.9, Box: yolo.Box{XCenter: x, YCenter: y, Width: w, Height: 10}}
}

func newCalibrator(t *testing.T) *measure.Calibrator {
	t.Helper()
	cal, err := measure.NewCalibrator("scale", 300)
	require.NoError(t, err)
	return cal
}

func TestRunZeroFrames(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{}
	out := filepath.Join(t.TempDir(), "static", "output.mp4")

	p := NewProcessor(src, &fakeDetector{}, newCalibrator(t),
		WithSink(sink.factory(), out), WithLogger(zaptest.NewLogger(t).Sugar()))
	results, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, results)
	assert.Equal(t, out, sink.path)
	assert.Equal(t, source.Properties{Width: 500, Height: 200, FPS: 25}, sink.props)
	assert.Empty(t, sink.writes)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, src.closed)
	assert.DirExists(t, filepath.Dir(out))
	assert.Equal(t, Closed, p.State())
}

func TestRunDistanceOnlyOnFrameFive(t *testing.T) {
	src := &fakeSource{frames: 8}
	detector := &fakeDetector{script: func(frame int) []yolo.Detection {
		dets := []yolo.Detection{det("scale", 20, 20, 150)}
		switch {
		case frame == 5:
			dets = append(dets, det("Bottle", 100, 100, 10), det("Book", 400, 100, 10))
		case frame < 5:
			dets = append(dets, det("Bottle", 100, 100, 10))
		default:
			dets = append(dets, det("Bottle", 1, 1, 1), det("Book", 2, 2, 1), det("Book", 3, 3, 1))
		}
		return dets
	}}
	sink := &fakeSink{}
	display := &recordingDisplay{}

	p := NewProcessor(src, detector, newCalibrator(t),
		WithSink(sink.factory(), filepath.Join(t.TempDir(), "out.mp4")),
		WithDisplay(display),
		WithLabels([]string{"Bottle", "Book"}),
		WithLogger(zaptest.NewLogger(t).Sugar()))
	results, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 8)

	for i, r := range results {
		assert.Equal(t, i+1, r.FrameIndex)
		if r.FrameIndex == 5 {
			require.NotNil(t, r.Distance)
			require.NotNil(t, r.Distance.DistanceMM)
			assert.InDelta(t, 600.0, *r.Distance.DistanceMM, 1e-9)
			assert.Equal(t, "Bottle", r.Distance.Label1)
			assert.Equal(t, "Book", r.Distance.Label2)
		} else {
			assert.Nil(t, r.Distance, "frame %d", r.FrameIndex)
		}
	}

	assert.Len(t, sink.writes, 8)
	assert.Equal(t, 8, display.shown)
	// 第5帧的连线
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, sink.writes[4].RGBAAt(250, 100))

	report := p.Report()
	assert.Equal(t, "fake", report.Source)
	assert.NotEmpty(t, report.RunID)
	require.NotNil(t, report.PixelPerMM)
	assert.InDelta(t, 0.5, *report.PixelPerMM, 1e-9)
	assert.Len(t, report.DistanceFrames(), 1)
	assert.False(t, report.Stopped)
}

func TestRunUncalibratedDistance(t *testing.T) {
	src := &fakeSource{frames: 1}
	detector := &fakeDetector{script: func(int) []yolo.Detection {
		return []yolo.Detection{det("bolt", 10, 10, 5), det("nut", 40, 50, 5)}
	}}
	sink := &fakeSink{}

	results, err := NewProcessor(src, detector, newCalibrator(t),
		WithSink(sink.factory(), filepath.Join(t.TempDir(), "o.mp4"))).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Distance)
	assert.Nil(t, results[0].Distance.DistanceMM)
	assert.InDelta(t, 50, results[0].Distance.PixelDistance, 1e-9)
	assert.Equal(t, image.NewRGBA(image.Rect(0, 0, 500, 200)).Pix, sink.writes[0].Pix, "nothing drawn without a distance")
}

func TestRunEmptyAllowListExcludesReference(t *testing.T) {
	src := &fakeSource{frames: 1}
	detector := &fakeDetector{script: func(int) []yolo.Detection {
		return []yolo.Detection{det("scale", 0, 0, 150), det("bolt", 10, 10, 5), det("nut", 40, 50, 5)}
	}}

	results, err := NewProcessor(src, detector, newCalibrator(t)).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, results[0].Distance)
	assert.Equal(t, "bolt", results[0].Distance.Label1)
	assert.Equal(t, "nut", results[0].Distance.Label2)
	require.NotNil(t, results[0].Distance.DistanceMM)
	assert.InDelta(t, 100.0, *results[0].Distance.DistanceMM, 1e-9)
}

func TestRunUserStop(t *testing.T) {
	src := &fakeSource{frames: 100}
	sink := &fakeSink{}
	stopper := &stopAfter{n: 3}

	p := NewProcessor(src, &fakeDetector{}, newCalibrator(t),
		WithSink(sink.factory(), filepath.Join(t.TempDir(), "o.mp4")), WithStopper(stopper))
	results, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, results, 3)
	assert.Equal(t, 3, src.pulls)
	assert.Len(t, sink.writes, 3)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, src.closed)
	assert.True(t, p.Report().Stopped)
}

func TestRunCancellationDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &fakeSource{frames: 100}
	sink := &fakeSink{}
	detector := &fakeDetector{hook: func(frame int) {
		if frame == 4 {
			cancel()
		}
	}}

	p := NewProcessor(src, detector, newCalibrator(t), WithSink(sink.factory(), filepath.Join(t.TempDir(), "o.mp4")))
	results, err := p.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	assert.Len(t, results, 4)
	assert.Equal(t, 4, src.pulls, "no frames pulled after cancellation")
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, Closed, p.State())
	assert.Len(t, p.Report().Frames, 4)
}

func TestRunSourceUnavailable(t *testing.T) {
	src := &fakeSource{openErr: errors.Wrap(source.ErrSourceUnavailable, "missing.mp4")}
	detector := &fakeDetector{}
	sink := &fakeSink{}

	results, err := NewProcessor(src, detector, newCalibrator(t),
		WithSink(sink.factory(), filepath.Join(t.TempDir(), "o.mp4"))).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, source.ErrSourceUnavailable))
	assert.Empty(t, results)
	assert.Zero(t, detector.calls)
	assert.Empty(t, sink.path, "sink not created")
	assert.Equal(t, 1, src.closed)
}

func TestRunReadErrorPolicy(t *testing.T) {
	readErr := errors.New("corrupt packet")

	lenient := &fakeSource{frames: 3, readErr: readErr}
	results, err := NewProcessor(lenient, &fakeDetector{}, newCalibrator(t)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 3)

	strict := &fakeSource{frames: 3, readErr: readErr}
	results, err = NewProcessor(strict, &fakeDetector{}, newCalibrator(t), WithStrictReads(true)).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameRead))
	assert.True(t, errors.Is(err, readErr), "underlying read error stays matchable")
	assert.Len(t, results, 3)
	assert.Equal(t, 1, strict.closed)
}

func TestRunDetectorErrorIsFatal(t *testing.T) {
	src := &fakeSource{frames: 10}
	sink := &fakeSink{}

	results, err := NewProcessor(src, &fakeDetector{failAt: 3}, newCalibrator(t),
		WithSink(sink.factory(), filepath.Join(t.TempDir(), "o.mp4"))).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference failed")
	assert.Len(t, results, 2)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, 1, src.closed)
}

func TestRunOnlyOnce(t *testing.T) {
	p := NewProcessor(&fakeSource{}, &fakeDetector{}, newCalibrator(t))
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.Error(t, err)
}

func TestSinkFactoryError(t *testing.T) {
	src := &fakeSource{frames: 2}
	failing := func(string, source.Properties) (Sink, error) { return nil, errors.New("no encoder") }

	_, err := NewProcessor(src, &fakeDetector{}, newCalibrator(t),
		WithSink(failing, filepath.Join(t.TempDir(), "o.mp4"))).Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, src.pulls)
	assert.Equal(t, 1, src.closed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "streaming", Streaming.String())
	assert.Equal(t, "unknown", State(42).String())
}
