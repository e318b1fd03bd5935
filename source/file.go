package source

import (
	"context"
	"image"
	"io"
	"os"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/logging"
)

// FileSource 本地视频文件
type FileSource struct {
	path   string
	video  *vidio.Video
	logger *zap.SugaredLogger
}

// NewFileSource 创建文件输入源，文件在 Open 时才检查
func NewFileSource(path string, logger *zap.SugaredLogger) *FileSource {
	return &FileSource{path: path, logger: logging.OrNop(logger)}
}

// Name 返回文件路径
func (s *FileSource) Name() string {
	return s.path
}

// Open 打开视频文件
func (s *FileSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "文件 %s 不存在: %v", s.path, err)
	}
	if info.IsDir() {
		return errors.Wrapf(ErrSourceUnavailable, "%s 是目录", s.path)
	}

	video, err := vidio.NewVideo(s.path)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "无法打开视频文件 %s: %v", s.path, err)
	}
	s.video = video

	s.logger.Infof("📹 视频信息: %dx%d, %.2f FPS, %d 帧, %.2f 秒",
		video.Width(), video.Height(), video.FPS(), video.Frames(), video.Duration())
	return nil
}

// Next 读取下一帧
func (s *FileSource) Next() (image.Image, error) {
	if s.video == nil {
		return nil, errors.New("视频文件未打开")
	}
	if !s.video.Read() {
		return nil, io.EOF
	}
	return frameToImage(s.video.FrameBuffer(), s.video.Width(), s.video.Height()), nil
}

// Properties 返回分辨率和帧率
func (s *FileSource) Properties() Properties {
	if s.video == nil {
		return Properties{}
	}
	props := Properties{Width: s.video.Width(), Height: s.video.Height(), FPS: s.video.FPS()}
	if s.video.HasStreams() {
		props.AudioPath = s.path
	}
	return props
}

// Close 关闭视频文件，可重复调用
func (s *FileSource) Close() error {
	if s.video != nil {
		s.video.Close()
		s.video = nil
	}
	return nil
}
