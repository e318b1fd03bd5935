// Package gui 实时显示处理后的视频帧，并提供用户停止信号
package gui

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"github.com/disintegration/imaging"
)

// Viewer 实时视频窗口。按 q / Esc、点击停止或关闭窗口都会设置停止标志。
type Viewer struct {
	app          fyne.App
	window       fyne.Window
	imageDisplay *canvas.Image
	statusLabel  *widget.Label
	fpsLabel     *widget.Label

	maxWidth  int
	maxHeight int

	stopped    atomic.Bool
	frameCount atomic.Int64
	startTime  time.Time
}

// NewViewer 创建窗口（需要在主 goroutine 中调用）
func NewViewer(title string, maxWidth, maxHeight int) *Viewer {
	return newViewer(app.New(), title, maxWidth, maxHeight)
}

func newViewer(a fyne.App, title string, maxWidth, maxHeight int) *Viewer {
	v := &Viewer{
		app:       a,
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		startTime: time.Now(),
	}
	v.createWindow(title)
	return v
}

// createWindow 创建窗口
func (v *Viewer) createWindow(title string) {
	v.window = v.app.NewWindow(title)
	v.window.SetMaster()

	width, height := float32(v.maxWidth), float32(v.maxHeight)
	if width <= 0 || height <= 0 {
		width, height = 1000, 700
	}
	v.window.Resize(fyne.NewSize(width, height+60))

	v.imageDisplay = &canvas.Image{}
	v.imageDisplay.FillMode = canvas.ImageFillContain
	v.imageDisplay.SetMinSize(fyne.NewSize(width*0.8, height*0.8))

	v.statusLabel = widget.NewLabel("等待视频帧...")
	v.fpsLabel = widget.NewLabel("FPS: 0")
	stopBtn := widget.NewButton("停止 (q)", v.Stop)

	controls := container.NewHBox(stopBtn, v.statusLabel, v.fpsLabel)
	v.window.SetContent(container.NewBorder(nil, controls, nil, nil, v.imageDisplay))

	v.window.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		if ev.Name == fyne.KeyQ || ev.Name == fyne.KeyEscape {
			v.Stop()
		}
	})
	v.window.SetOnClosed(v.Stop)
}

// Stop 设置停止标志
func (v *Viewer) Stop() {
	if v.stopped.CompareAndSwap(false, true) {
		fyne.Do(func() {
			v.statusLabel.SetText("已停止")
		})
	}
}

// Stopped 实现 pipeline.Stopper
func (v *Viewer) Stopped() bool {
	return v.stopped.Load()
}

// Show 实现 pipeline.Display，可以在任意 goroutine 调用
func (v *Viewer) Show(img image.Image) {
	frame := fitFrame(img, v.maxWidth, v.maxHeight)
	n := v.frameCount.Add(1)

	fps := 0.0
	if elapsed := time.Since(v.startTime).Seconds(); elapsed > 0 {
		fps = float64(n) / elapsed
	}

	fyne.Do(func() {
		v.imageDisplay.Image = frame
		v.imageDisplay.Refresh()
		v.fpsLabel.SetText(fmt.Sprintf("FPS: %.1f", fps))
		if !v.Stopped() {
			v.statusLabel.SetText(fmt.Sprintf("帧: %d", n))
		}
	})
}

// Run 在后台执行 work，当前 goroutine 运行窗口事件循环。
// work 结束后关闭窗口；窗口先被关闭时等待 work 收尾后返回。
func (v *Viewer) Run(work func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer fyne.Do(v.window.Close)
		work()
	}()
	v.window.ShowAndRun()
	v.Stop()
	<-done
}

// fitFrame 超过最大尺寸时等比缩小
func fitFrame(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || maxHeight <= 0 || (b.Dx() <= maxWidth && b.Dy() <= maxHeight) {
		return img
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Linear)
}
