// Package source 视频帧来源（本地文件、摄像头、远程视频）以及输出视频写入器
package source

import (
	"context"
	"image"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/config"
	"github.com/Cubiaa/yolo-distance/logging"
)

// ErrSourceUnavailable 输入源无法打开
var ErrSourceUnavailable = errors.New("输入源不可用")

// Properties 输入源的视频属性，打开后查询一次
type Properties struct {
	Width  int
	Height int
	FPS    float64
	// AudioPath 带音轨的本地文件，输出视频可以从这里复制音频
	AudioPath string
}

// Source 帧来源。Next 在流结束时返回 io.EOF。
type Source interface {
	Open(ctx context.Context) error
	Next() (image.Image, error)
	Properties() Properties
	Close() error
	Name() string
}

type options struct {
	logger     *zap.SugaredLogger
	downloader Downloader
}

// Option 创建输入源的可选项
type Option func(*options)

// WithLogger 设置日志器
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDownloader 替换远程视频下载器
func WithDownloader(d Downloader) Option {
	return func(o *options) {
		o.downloader = d
	}
}

// New 根据配置创建输入源
func New(cfg config.SourceConfig, opts ...Option) (Source, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger)

	switch strings.ToLower(cfg.Type) {
	case config.SourceFile, "":
		return NewFileSource(cfg.Path, o.logger), nil
	case config.SourceCamera:
		return NewCameraSource(cfg.Path, o.logger)
	case config.SourceYouTube, config.SourceURL:
		d := o.downloader
		if d == nil {
			if strings.ToLower(cfg.Type) == config.SourceYouTube {
				d = NewYouTubeDownloader(o.logger)
			} else {
				d = NewAutoDownloader(o.logger)
			}
		}
		return NewRemoteSource(cfg.Path, d,
			WithKeepDownload(cfg.KeepDownload),
			WithDownloadDir(cfg.DownloadDir),
			WithRemoteLogger(o.logger),
		), nil
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "不支持的输入源类型: %q", cfg.Type)
	}
}
