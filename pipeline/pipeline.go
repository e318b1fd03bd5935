// Package pipeline 逐帧处理：读取、检测、标定、测距、写出
package pipeline

import (
	"context"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/logging"
	"github.com/Cubiaa/yolo-distance/measure"
	"github.com/Cubiaa/yolo-distance/source"
	"github.com/Cubiaa/yolo-distance/yolo"
)

// ErrFrameRead 读取帧失败（仅在严格读取模式下返回）
var ErrFrameRead = errors.New("读取帧失败")

// progressEvery 每处理这么多帧输出一次进度
const progressEvery = 30

// Detector 目标检测器，返回检测结果和已标注的帧
type Detector interface {
	Detect(img image.Image) ([]yolo.Detection, *image.RGBA, error)
}

// Sink 输出视频
type Sink interface {
	Write(img image.Image) error
	Close() error
}

// SinkFactory 按输入源属性创建输出
type SinkFactory func(path string, props source.Properties) (Sink, error)

// Display 实时显示
type Display interface {
	Show(img image.Image)
}

// Stopper 用户停止信号，每帧检查一次
type Stopper interface {
	Stopped() bool
}

// State 处理器状态
type State int32

const (
	Idle State = iota
	Opening
	Streaming
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Processor 视频处理器，每个实例只运行一次
type Processor struct {
	src      source.Source
	detector Detector
	cal      *measure.Calibrator

	sinkFactory SinkFactory
	outputPath  string
	display     Display
	stopper     Stopper
	labels      map[string]struct{}
	renderer    *measure.Renderer
	strictReads bool
	logger      *zap.SugaredLogger

	state  atomic.Int32
	report RunLog
}

// Option 处理器选项
type Option func(*Processor)

// WithSink 设置输出视频
func WithSink(factory SinkFactory, path string) Option {
	return func(p *Processor) {
		p.sinkFactory = factory
		p.outputPath = path
	}
}

// WithDisplay 设置实时显示
func WithDisplay(d Display) Option {
	return func(p *Processor) {
		p.display = d
	}
}

// WithStopper 设置停止信号
func WithStopper(s Stopper) Option {
	return func(p *Processor) {
		p.stopper = s
	}
}

// WithLabels 参与测距的标签。为空时除参考物体外的所有标签都参与。
func WithLabels(labels []string) Option {
	return func(p *Processor) {
		p.labels = make(map[string]struct{}, len(labels))
		for _, l := range labels {
			p.labels[l] = struct{}{}
		}
	}
}

// WithRenderer 设置距离绘制器
func WithRenderer(r *measure.Renderer) Option {
	return func(p *Processor) {
		p.renderer = r
	}
}

// WithStrictReads 读帧失败时返回 ErrFrameRead，而不是当作流结束
func WithStrictReads(strict bool) Option {
	return func(p *Processor) {
		p.strictReads = strict
	}
}

// WithLogger 设置日志器
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor 创建处理器
func NewProcessor(src source.Source, detector Detector, cal *measure.Calibrator, opts ...Option) *Processor {
	p := &Processor{
		src:      src,
		detector: detector,
		cal:      cal,
		renderer: measure.NewRenderer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger)
	return p
}

// State 当前状态
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
	p.logger.Debugw("状态切换", "state", s.String())
}

// Report 运行记录，Run 结束后完整
func (p *Processor) Report() RunLog {
	return p.report
}

// Run 处理整个视频流，返回每帧的检测结果。
// 无论以何种方式结束，输入源和输出都会被关闭。
func (p *Processor) Run(ctx context.Context) (results []FrameResult, err error) {
	if !p.state.CompareAndSwap(int32(Idle), int32(Opening)) {
		return nil, errors.Errorf("处理器已经运行过（状态 %s）", p.State())
	}
	p.report = RunLog{
		RunID:     uuid.NewString(),
		Source:    p.src.Name(),
		StartedAt: time.Now(),
	}

	var sink Sink
	defer func() {
		p.setState(Draining)
		if sink != nil {
			err = multierr.Append(err, errors.Wrap(sink.Close(), "关闭输出失败"))
		}
		err = multierr.Append(err, errors.Wrap(p.src.Close(), "关闭输入源失败"))

		p.report.FinishedAt = time.Now()
		p.report.Frames = results
		if ratio, ok := p.cal.PixelPerMM(); ok {
			p.report.PixelPerMM = &ratio
		}
		p.setState(Closed)
	}()

	if err := p.src.Open(ctx); err != nil {
		return nil, errors.Wrapf(err, "打开输入源 %s 失败", p.src.Name())
	}
	props := p.src.Properties()
	p.logger.Infof("📹 输入源: %s, %dx%d, %.2f FPS", p.src.Name(), props.Width, props.Height, props.FPS)

	if p.sinkFactory != nil {
		if dir := filepath.Dir(p.outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "创建输出目录失败")
			}
		}
		if sink, err = p.sinkFactory(p.outputPath, props); err != nil {
			sink = nil
			return nil, errors.Wrapf(err, "创建输出 %s 失败", p.outputPath)
		}
	}

	p.setState(Streaming)
	p.logger.Info("🚀 开始处理帧...")

	frameIndex := 0
	for {
		if ctx.Err() != nil {
			p.logger.Warnf("⚠️ 处理被取消，已处理 %d 帧", frameIndex)
			return results, ctx.Err()
		}
		if p.stopper != nil && p.stopper.Stopped() {
			p.logger.Info("⏹️ 用户停止处理")
			p.report.Stopped = true
			break
		}

		frame, readErr := p.src.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if p.strictReads {
				return results, errors.Wrapf(multierr.Combine(ErrFrameRead, readErr), "第 %d 帧之后", frameIndex)
			}
			p.logger.Warnf("⚠️ 读取第 %d 帧失败，按流结束处理: %v", frameIndex+1, readErr)
			break
		}
		frameIndex++

		result, annotated, err := p.processFrame(frameIndex, frame)
		if err != nil {
			return results, err
		}
		results = append(results, result)

		if sink != nil {
			if err := sink.Write(annotated); err != nil {
				return results, errors.Wrapf(err, "写入第 %d 帧失败", frameIndex)
			}
		}
		if p.display != nil {
			p.display.Show(annotated)
		}

		if frameIndex%progressEvery == 0 {
			p.logger.Infof("📊 已处理 %d 帧...", frameIndex)
		}
	}

	p.logger.Infof("✅ 视频处理完成，共处理 %d 帧", frameIndex)
	return results, nil
}

// processFrame 检测、标定并在恰好有两个目标时测距
func (p *Processor) processFrame(index int, frame image.Image) (FrameResult, *image.RGBA, error) {
	detections, annotated, err := p.detector.Detect(frame)
	if err != nil {
		return FrameResult{}, nil, errors.Wrapf(err, "第 %d 帧检测失败", index)
	}
	if annotated == nil {
		annotated = toRGBA(frame)
	}

	if p.cal != nil && p.cal.Update(detections) == measure.NewlyCalibrated {
		ratio, _ := p.cal.PixelPerMM()
		p.logger.Infof("📏 第 %d 帧完成标定: %.4f 像素/毫米", index, ratio)
	}

	result := FrameResult{FrameIndex: index, Detections: detections}
	if pair := p.selectPair(detections); pair != nil {
		m := measure.MeasureDetections(pair[0], pair[1], p.cal)
		result.Distance = &m
		if p.renderer != nil {
			p.renderer.Draw(annotated, m)
		}
	}
	return result, annotated, nil
}

// selectPair 返回参与测距的两个检测结果，数量不是2时返回 nil
func (p *Processor) selectPair(detections []yolo.Detection) []yolo.Detection {
	var pair []yolo.Detection
	for _, d := range detections {
		if !p.qualifies(d.Label) {
			continue
		}
		pair = append(pair, d)
		if len(pair) > 2 {
			return nil
		}
	}
	if len(pair) != 2 {
		return nil
	}
	return pair
}

func (p *Processor) qualifies(label string) bool {
	if len(p.labels) > 0 {
		_, ok := p.labels[label]
		return ok
	}
	return p.cal == nil || label != p.cal.ReferenceLabel
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	return out
}
