package yolo

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// defaultFontSize FontSize 未设置时的字号
const defaultFontSize = 12

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Annotate 在图像副本上绘制检测框、标签和坐标文本
func Annotate(img image.Image, detections []Detection, opts *DetectionOptions) *image.RGBA {
	if opts == nil {
		opts = DefaultDetectionOptions()
	}

	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)
	if len(detections) == 0 {
		return out
	}

	dc := gg.NewContextForRGBA(out)
	fontSize := opts.FontSize
	if fontSize <= 0 {
		fontSize = defaultFontSize
	}
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: float64(fontSize)}))

	boxColor := parseColor(opts.BoxColor, color.RGBA{255, 0, 0, 255})
	labelColor := parseColor(opts.LabelColor, color.RGBA{255, 255, 255, 255})
	coordColor := parseColor(opts.CoordColor, color.RGBA{0, 0, 0, 255})

	for _, d := range detections {
		r := d.Box.Rect()
		if opts.DrawBoxes {
			strokeBox(dc, r, boxColor, opts.LineWidth)
		}

		// 标签在框上方，坐标文本再往上一行
		lineHeight := dc.FontHeight() + 4
		if opts.DrawLabels {
			drawLabel(dc, fmt.Sprintf("%s %.2f", d.Label, d.Confidence), r, lineHeight, labelColor)
		}
		if opts.DrawCoords {
			drawLabel(dc, CoordText(d.Box), r, 2*lineHeight, coordColor)
		}
	}

	return out
}

// CoordText 返回框的坐标文本，例如 "XYWH: 100, 120, 30, 40"
func CoordText(b Box) string {
	return fmt.Sprintf("XYWH: %d, %d, %d, %d",
		int(math.Round(b.XCenter)), int(math.Round(b.YCenter)),
		int(math.Round(b.Width)), int(math.Round(b.Height)))
}

// strokeBox 画检测框，超出画面的部分由 gg 裁剪
func strokeBox(dc *gg.Context, r image.Rectangle, c color.Color, lineWidth int) {
	if lineWidth < 1 {
		lineWidth = 1
	}
	dc.SetColor(c)
	dc.SetLineWidth(float64(lineWidth))
	dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
	dc.Stroke()
}

// drawLabel 在框左上角上方 offset 处绘制文本；放不下时改到框内，水平方向挪回画面
func drawLabel(dc *gg.Context, text string, box image.Rectangle, offset float64, c color.Color) {
	const padding = 4
	w, h := dc.MeasureString(text)
	width, height := float64(dc.Width()), float64(dc.Height())

	x := float64(box.Min.X)
	if x+w+padding > width {
		x = width - w - padding
	}
	x = math.Max(x, 0)

	top := float64(box.Min.Y) - offset
	if top < padding {
		top = float64(box.Min.Y) + offset - h
	}
	top = math.Max(0, math.Min(top, height-h-padding))

	dc.SetColor(c)
	dc.DrawStringAnchored(text, x, top, 0, 1)
}

// parseColor 解析颜色字符串，无法解析时返回 fallback
func parseColor(colorStr string, fallback color.RGBA) color.RGBA {
	switch strings.ToLower(colorStr) {
	case "red":
		return color.RGBA{255, 0, 0, 255}
	case "green":
		return color.RGBA{0, 255, 0, 255}
	case "blue":
		return color.RGBA{0, 0, 255, 255}
	case "yellow":
		return color.RGBA{255, 255, 0, 255}
	case "cyan":
		return color.RGBA{0, 255, 255, 255}
	case "magenta":
		return color.RGBA{255, 0, 255, 255}
	case "white":
		return color.RGBA{255, 255, 255, 255}
	case "black":
		return color.RGBA{0, 0, 0, 255}
	case "orange":
		return color.RGBA{255, 165, 0, 255}
	case "purple":
		return color.RGBA{128, 0, 128, 255}
	default:
		return fallback
	}
}
