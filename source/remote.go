package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kkdai/youtube/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/logging"
)

// Downloader 把远程视频下载到本地文件
type Downloader interface {
	Download(ctx context.Context, rawURL, dst string) error
}

// RemoteSource 远程视频：先下载到临时文件，再按本地文件读取
type RemoteSource struct {
	url          string
	downloader   Downloader
	keepDownload bool
	downloadDir  string
	logger       *zap.SugaredLogger

	localPath string
	file      *FileSource
}

// RemoteOption 远程输入源选项
type RemoteOption func(*RemoteSource)

// WithKeepDownload 关闭时保留下载的文件
func WithKeepDownload(keep bool) RemoteOption {
	return func(s *RemoteSource) {
		s.keepDownload = keep
	}
}

// WithDownloadDir 下载目录，默认系统临时目录
func WithDownloadDir(dir string) RemoteOption {
	return func(s *RemoteSource) {
		s.downloadDir = dir
	}
}

// WithRemoteLogger 设置日志器
func WithRemoteLogger(logger *zap.SugaredLogger) RemoteOption {
	return func(s *RemoteSource) {
		s.logger = logger
	}
}

// NewRemoteSource 创建远程输入源
func NewRemoteSource(rawURL string, downloader Downloader, opts ...RemoteOption) *RemoteSource {
	s := &RemoteSource{url: rawURL, downloader: downloader}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Name 返回远程URL
func (s *RemoteSource) Name() string {
	return s.url
}

// LocalPath 下载后的本地路径，Open 之前为空
func (s *RemoteSource) LocalPath() string {
	return s.localPath
}

// Open 下载视频并打开。下载失败原样返回，不重试。
func (s *RemoteSource) Open(ctx context.Context) error {
	dir := s.downloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "创建下载目录失败")
	}

	name := fmt.Sprintf("youtube_video_%s.mp4", strings.ReplaceAll(uuid.NewString(), "-", ""))
	s.localPath = filepath.Join(dir, name)

	s.logger.Infof("📥 正在下载视频: %s", s.url)
	if err := s.downloader.Download(ctx, s.url, s.localPath); err != nil {
		s.removeDownload()
		return errors.Wrapf(err, "下载视频失败 %s", s.url)
	}
	s.logger.Infof("✅ 下载完成: %s", s.localPath)

	s.file = NewFileSource(s.localPath, s.logger)
	if err := s.file.Open(ctx); err != nil {
		s.file = nil
		s.removeDownload()
		return err
	}
	return nil
}

// Next 读取下一帧
func (s *RemoteSource) Next() (image.Image, error) {
	if s.file == nil {
		return nil, errors.New("远程视频未打开")
	}
	return s.file.Next()
}

// Properties 返回分辨率和帧率
func (s *RemoteSource) Properties() Properties {
	if s.file == nil {
		return Properties{}
	}
	return s.file.Properties()
}

// Close 关闭视频并删除临时文件
func (s *RemoteSource) Close() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	return s.removeDownload()
}

func (s *RemoteSource) removeDownload() error {
	if s.keepDownload || s.localPath == "" {
		return nil
	}
	err := os.Remove(s.localPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "删除临时文件失败")
	}
	return nil
}

// IsYouTubeURL 判断是否为 YouTube 链接
func IsYouTubeURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

// YouTubeDownloader 下载带音轨的 mp4 格式，优先最高分辨率
type YouTubeDownloader struct {
	Client youtube.Client
	logger *zap.SugaredLogger
}

// NewYouTubeDownloader 创建 YouTube 下载器
func NewYouTubeDownloader(logger *zap.SugaredLogger) *YouTubeDownloader {
	return &YouTubeDownloader{logger: logging.OrNop(logger)}
}

// Download 实现 Downloader
func (d *YouTubeDownloader) Download(ctx context.Context, rawURL, dst string) error {
	video, err := d.Client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return errors.Wrap(err, "获取视频信息失败")
	}

	formats := video.Formats.Type("video/mp4").WithAudioChannels()
	if len(formats) == 0 {
		return errors.Errorf("视频 %s 没有可用的 mp4 格式", video.ID)
	}
	best := formats[0]
	for _, f := range formats[1:] {
		if f.Height > best.Height || (f.Height == best.Height && f.Bitrate > best.Bitrate) {
			best = f
		}
	}
	d.logger.Infof("🎬 %s: %s %dp", video.Title, best.MimeType, best.Height)

	stream, _, err := d.Client.GetStreamContext(ctx, video, &best)
	if err != nil {
		return errors.Wrap(err, "获取视频流失败")
	}
	defer stream.Close()

	return writeFile(dst, stream)
}

// HTTPDownloader 直接下载 http(s) 视频文件
type HTTPDownloader struct {
	Client *http.Client
}

// Download 实现 Downloader
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "创建请求失败")
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "请求失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("下载失败: HTTP %d", resp.StatusCode)
	}
	return writeFile(dst, resp.Body)
}

// AutoDownloader 根据域名选择 YouTube 或 HTTP 下载器
type AutoDownloader struct {
	YouTube Downloader
	HTTP    Downloader
}

// NewAutoDownloader 创建自动下载器
func NewAutoDownloader(logger *zap.SugaredLogger) *AutoDownloader {
	return &AutoDownloader{
		YouTube: NewYouTubeDownloader(logger),
		HTTP:    &HTTPDownloader{},
	}
}

// Download 实现 Downloader
func (d *AutoDownloader) Download(ctx context.Context, rawURL, dst string) error {
	if IsYouTubeURL(rawURL) {
		return d.YouTube.Download(ctx, rawURL, dst)
	}
	return d.HTTP.Download(ctx, rawURL, dst)
}

func writeFile(dst string, r io.Reader) error {
	f, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "创建文件失败")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrap(err, "写入文件失败")
	}
	return errors.Wrap(f.Close(), "关闭文件失败")
}
