package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	vidio "github.com/AlexEidt/Vidio"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/config"
	"github.com/Cubiaa/yolo-distance/logging"
)

// defaultCameraFPS 摄像头不报告帧率时使用
const defaultCameraFPS = 30

// CameraSource 摄像头输入
type CameraSource struct {
	device string
	index  int
	camera *vidio.Camera
	logger *zap.SugaredLogger
}

// NewCameraSource 创建摄像头输入源
func NewCameraSource(device string, logger *zap.SugaredLogger) (*CameraSource, error) {
	index, err := ParseCameraDevice(device)
	if err != nil {
		return nil, err
	}
	return &CameraSource{device: device, index: index, logger: logging.OrNop(logger)}, nil
}

// ParseCameraDevice 把设备字符串解析为摄像头索引。
// 支持 "0"、"/dev/video1"、"video=1"，以及 "camera"/"cam"/"webcam"（默认摄像头0）。
func ParseCameraDevice(device string) (int, error) {
	d := strings.ToLower(strings.TrimSpace(device))
	switch d {
	case "", "camera", "cam", "webcam":
		return 0, nil
	}

	d = strings.TrimPrefix(d, "/dev/video")
	d = strings.TrimPrefix(d, "video=")
	index, err := strconv.Atoi(d)
	if err != nil || index < 0 {
		return 0, errors.Wrapf(config.ErrInvalidConfig, "无法识别的摄像头设备: %q", device)
	}
	return index, nil
}

// Index 摄像头索引
func (s *CameraSource) Index() int {
	return s.index
}

// Name 返回设备名
func (s *CameraSource) Name() string {
	return fmt.Sprintf("camera:%d", s.index)
}

// Open 打开摄像头
func (s *CameraSource) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	camera, err := vidio.NewCamera(s.index)
	if err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "无法打开摄像头 %d: %v", s.index, err)
	}
	s.camera = camera

	s.logger.Infof("📹 摄像头 %d: %dx%d, %.2f FPS", s.index, camera.Width(), camera.Height(), camera.FPS())
	return nil
}

// Next 读取下一帧
func (s *CameraSource) Next() (image.Image, error) {
	if s.camera == nil {
		return nil, errors.New("摄像头未打开")
	}
	if !s.camera.Read() {
		return nil, io.EOF
	}
	return frameToImage(s.camera.FrameBuffer(), s.camera.Width(), s.camera.Height()), nil
}

// Properties 返回分辨率和帧率
func (s *CameraSource) Properties() Properties {
	if s.camera == nil {
		return Properties{}
	}
	fps := s.camera.FPS()
	if fps <= 0 {
		fps = defaultCameraFPS
	}
	return Properties{Width: s.camera.Width(), Height: s.camera.Height(), FPS: fps}
}

// Close 关闭摄像头
func (s *CameraSource) Close() error {
	if s.camera != nil {
		s.camera.Close()
		s.camera = nil
	}
	return nil
}
