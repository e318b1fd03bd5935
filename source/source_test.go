package source

import (
	"context"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Cubiaa/yolo-distance/config"
)

func TestParseCameraDevice(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"2", 2},
		{"/dev/video1", 1},
		{"video=3", 3},
		{"camera", 0},
		{"WebCam", 0},
		{"cam", 0},
	}
	for _, tt := range tests {
		got, err := ParseCameraDevice(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"front", "-1", "/dev/videoX"} {
		_, err := ParseCameraDevice(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, config.ErrInvalidConfig))
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "nope.mp4"), zaptest.NewLogger(t).Sugar())
	err := src.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.Equal(t, Properties{}, src.Properties())
	assert.NoError(t, src.Close())

	_, err = src.Next()
	assert.Error(t, err)
}

func TestFileSourceDirectory(t *testing.T) {
	err := NewFileSource(t.TempDir(), nil).Open(context.Background())
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestFrameConversion(t *testing.T) {
	buf := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 1, 2, 3, 255,
	}
	img := frameToImage(buf, 2, 2)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, img.RGBAAt(0, 1))

	buf[0] = 7
	assert.Equal(t, uint8(255), img.Pix[0], "frame must not alias the decoder buffer")

	assert.Equal(t, img.Pix, imageToFrame(img))

	sub := image.NewRGBA(image.Rect(0, 0, 4, 4))
	sub.Set(2, 2, color.RGBA{9, 8, 7, 255})
	cropped := sub.SubImage(image.Rect(2, 2, 4, 4))
	out := imageToFrame(cropped)
	require.Len(t, out, 16)
	assert.Equal(t, []byte{9, 8, 7, 255}, out[:4])

	nrgba := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	nrgba.Set(0, 0, color.NRGBA{10, 20, 30, 255})
	assert.Equal(t, []byte{10, 20, 30, 255}, imageToFrame(nrgba))
}

type fakeDownloader struct {
	content []byte
	err     error
	calls   int
	lastDst string
}

func (f *fakeDownloader) Download(_ context.Context, _, dst string) error {
	f.calls++
	f.lastDst = dst
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.content, 0o644)
}

func TestRemoteSourceDownloadFailure(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("network down")
	d := &fakeDownloader{err: boom}
	src := NewRemoteSource("https://youtu.be/abc", d, WithDownloadDir(dir))

	err := src.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.False(t, errors.Is(err, ErrSourceUnavailable))
	assert.Equal(t, 1, d.calls, "downloads are not retried")

	assert.Regexp(t, `youtube_video_[0-9a-f]{32}\.mp4$`, d.lastDst)
	assert.Equal(t, dir, filepath.Dir(d.lastDst))
	assert.NoFileExists(t, d.lastDst)
	assert.NoError(t, src.Close())
}

func TestRemoteSourceUndecodableDownload(t *testing.T) {
	dir := t.TempDir()
	d := &fakeDownloader{content: []byte("not a video")}
	src := NewRemoteSource("https://example.com/v.mp4", d, WithDownloadDir(dir))

	err := src.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.NoFileExists(t, src.LocalPath())
}

func TestRemoteSourceKeepDownload(t *testing.T) {
	dir := t.TempDir()
	d := &fakeDownloader{content: []byte("not a video")}
	src := NewRemoteSource("https://example.com/v.mp4", d, WithDownloadDir(dir), WithKeepDownload(true))

	require.Error(t, src.Open(context.Background()))
	require.NoError(t, src.Close())
	assert.FileExists(t, src.LocalPath())
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "video-bytes")
	}))
	defer srv.Close()

	dst := filepath.Join(t.TempDir(), "out.mp4")
	d := &HTTPDownloader{Client: srv.Client()}
	require.NoError(t, d.Download(context.Background(), srv.URL+"/v.mp4", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	err = d.Download(context.Background(), srv.URL+"/missing.mp4", filepath.Join(t.TempDir(), "x.mp4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAutoDownloaderDispatch(t *testing.T) {
	yt, web := &fakeDownloader{content: []byte("yt")}, &fakeDownloader{content: []byte("web")}
	d := &AutoDownloader{YouTube: yt, HTTP: web}
	dir := t.TempDir()

	require.NoError(t, d.Download(context.Background(), "https://www.youtube.com/shorts/nLXBinY7BwI", filepath.Join(dir, "a")))
	require.NoError(t, d.Download(context.Background(), "https://cdn.example.com/clip.mp4", filepath.Join(dir, "b")))
	assert.Equal(t, 1, yt.calls)
	assert.Equal(t, 1, web.calls)
}

func TestIsYouTubeURL(t *testing.T) {
	assert.True(t, IsYouTubeURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, IsYouTubeURL("https://youtu.be/abc"))
	assert.True(t, IsYouTubeURL("https://m.youtube.com/watch?v=abc"))
	assert.False(t, IsYouTubeURL("https://example.com/youtube.com"))
	assert.False(t, IsYouTubeURL("::not a url"))
}

func TestNewFactory(t *testing.T) {
	src, err := New(config.SourceConfig{Type: config.SourceFile, Path: "a.mp4"})
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)
	assert.Equal(t, "a.mp4", src.Name())

	src, err = New(config.SourceConfig{Type: config.SourceCamera, Path: "/dev/video2"})
	require.NoError(t, err)
	require.IsType(t, &CameraSource{}, src)
	assert.Equal(t, 2, src.(*CameraSource).Index())
	assert.Equal(t, "camera:2", src.Name())

	d := &fakeDownloader{}
	src, err = New(config.SourceConfig{Type: config.SourceYouTube, Path: "https://youtu.be/x"}, WithDownloader(d))
	require.NoError(t, err)
	assert.IsType(t, &RemoteSource{}, src)

	src, err = New(config.SourceConfig{Type: config.SourceURL, Path: "https://example.com/x.mp4"})
	require.NoError(t, err)
	assert.IsType(t, &AutoDownloader{}, src.(*RemoteSource).downloader)

	_, err = New(config.SourceConfig{Type: "screen"})
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestNewVideoWriterRejectsEmptySize(t *testing.T) {
	_, err := NewVideoWriter(filepath.Join(t.TempDir(), "out.mp4"), Properties{}, WriterOptions{Quality: 0.8})
	assert.Error(t, err)
}

func TestVidioOptions(t *testing.T) {
	props := Properties{Width: 640, Height: 480, FPS: 25, AudioPath: "input.mp4"}

	opts := vidioOptions(props, WriterOptions{Quality: 0.8, PreserveAudio: true})
	assert.Equal(t, "input.mp4", opts.StreamFile)
	assert.InDelta(t, 25, opts.FPS, 1e-9)
	assert.InDelta(t, 0.8, opts.Quality, 1e-9)

	opts = vidioOptions(props, WriterOptions{Quality: 0.8})
	assert.Empty(t, opts.StreamFile, "audio is copied only when requested")

	silent := props
	silent.AudioPath = ""
	opts = vidioOptions(silent, WriterOptions{PreserveAudio: true})
	assert.Empty(t, opts.StreamFile)
	assert.InDelta(t, 1.0, opts.Quality, 1e-9)

	opts = vidioOptions(Properties{Width: 1, Height: 1}, WriterOptions{Quality: 3})
	assert.InDelta(t, float64(defaultCameraFPS), opts.FPS, 1e-9)
	assert.InDelta(t, 1.0, opts.Quality, 1e-9)
}

func TestVideoWriterClosed(t *testing.T) {
	w := &VideoWriter{path: "out.mp4", width: 2, height: 2, logger: zaptest.NewLogger(t).Sugar()}
	assert.Equal(t, "out.mp4", w.Path())

	assert.Error(t, w.Write(image.NewRGBA(image.Rect(0, 0, 2, 2))))
	assert.Zero(t, w.Frames())
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
