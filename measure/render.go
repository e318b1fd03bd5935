package measure

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Renderer 在帧上绘制测量结果
type Renderer struct {
	LineColor  color.Color
	LineWidth  float64
	TextColor  color.Color
	LabelColor color.Color
}

// NewRenderer 默认样式：红线，线宽2，白色标签
func NewRenderer() *Renderer {
	return &Renderer{
		LineColor:  color.RGBA{255, 0, 0, 255},
		LineWidth:  2,
		TextColor:  color.RGBA{255, 0, 0, 255},
		LabelColor: color.RGBA{255, 255, 255, 255},
	}
}

// Text 距离文本，例如 "600.00 mm"
func (m Measurement) Text() string {
	if m.DistanceMM == nil {
		return ""
	}
	return fmt.Sprintf("%.2f mm", *m.DistanceMM)
}

// Draw 直接在 img 上绘制连线、距离和两个标签。没有毫米距离时不绘制。
func (r *Renderer) Draw(img *image.RGBA, m Measurement) {
	if img == nil || m.DistanceMM == nil {
		return
	}

	dc := gg.NewContextForRGBA(img)
	dc.SetFontFace(basicfont.Face7x13)

	dc.SetColor(r.LineColor)
	dc.SetLineWidth(r.LineWidth)
	dc.DrawLine(float64(m.Center1.X), float64(m.Center1.Y), float64(m.Center2.X), float64(m.Center2.Y))
	dc.Stroke()

	mid := m.Midpoint()
	dc.SetColor(r.TextColor)
	dc.DrawStringAnchored(m.Text(), float64(mid.X), float64(mid.Y), 0.5, 0.5)

	dc.SetColor(r.LabelColor)
	if m.Label1 != "" {
		dc.DrawStringAnchored(m.Label1, float64(m.Center1.X), float64(m.Center1.Y), 0.5, 0.5)
	}
	if m.Label2 != "" {
		dc.DrawStringAnchored(m.Label2, float64(m.Center2.X), float64(m.Center2.Y), 0.5, 0.5)
	}
}
