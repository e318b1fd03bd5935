package source

import (
	"image"
	"os"
	"path/filepath"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/logging"
)

// WriterOptions 输出视频选项
type WriterOptions struct {
	Quality       float64 // 0~1，超出范围时使用 1.0
	PreserveAudio bool    // 从输入文件复制音轨
	Logger        *zap.SugaredLogger
}

// VideoWriter 输出视频写入器
type VideoWriter struct {
	path   string
	width  int
	height int
	writer *vidio.VideoWriter
	frames int
	logger *zap.SugaredLogger
}

// NewVideoWriter 以输入源的分辨率和帧率创建输出视频，必要时创建输出目录
func NewVideoWriter(path string, props Properties, opts WriterOptions) (*VideoWriter, error) {
	if props.Width <= 0 || props.Height <= 0 {
		return nil, errors.Errorf("无效的视频尺寸 %dx%d", props.Width, props.Height)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建输出目录失败")
		}
	}

	writer, err := vidio.NewVideoWriter(path, props.Width, props.Height, vidioOptions(props, opts))
	if err != nil {
		return nil, errors.Wrap(err, "无法创建输出视频")
	}
	return &VideoWriter{
		path:   path,
		width:  props.Width,
		height: props.Height,
		writer: writer,
		logger: logging.OrNop(opts.Logger),
	}, nil
}

// vidioOptions 编码参数；保留音轨时由 Vidio 从 StreamFile 中映射音频流
func vidioOptions(props Properties, opts WriterOptions) *vidio.Options {
	fps := props.FPS
	if fps <= 0 {
		fps = defaultCameraFPS
	}
	quality := opts.Quality
	if quality <= 0 || quality > 1 {
		quality = 1.0
	}

	vopts := &vidio.Options{
		FPS:     fps,
		Quality: quality,
	}
	if opts.PreserveAudio && props.AudioPath != "" {
		vopts.StreamFile = props.AudioPath
	}
	return vopts
}

// Path 输出路径
func (w *VideoWriter) Path() string {
	return w.path
}

// Frames 已写入的帧数
func (w *VideoWriter) Frames() int {
	return w.frames
}

// Write 写入一帧，尺寸必须与创建时一致
func (w *VideoWriter) Write(img image.Image) error {
	if w.writer == nil {
		return errors.New("视频写入器已关闭")
	}
	b := img.Bounds()
	if b.Dx() != w.width || b.Dy() != w.height {
		return errors.Errorf("帧尺寸 %dx%d 与输出视频 %dx%d 不一致", b.Dx(), b.Dy(), w.width, w.height)
	}
	if err := w.writer.Write(imageToFrame(img)); err != nil {
		return errors.Wrap(err, "写入帧失败")
	}
	w.frames++
	return nil
}

// Close 结束编码，可重复调用
func (w *VideoWriter) Close() error {
	if w.writer != nil {
		w.writer.Close()
		w.writer = nil
		w.logger.Infof("💾 输出视频已保存: %s (%d 帧)", w.Path(), w.Frames())
	}
	return nil
}
