package measure

import (
	"image"
	"math"

	"github.com/Cubiaa/yolo-distance/yolo"
)

// Measurement 两个目标之间的测量结果
type Measurement struct {
	Label1        string      `json:"label1" yaml:"label1"`
	Label2        string      `json:"label2" yaml:"label2"`
	Center1       image.Point `json:"center1" yaml:"center1"`
	Center2       image.Point `json:"center2" yaml:"center2"`
	PixelDistance float64     `json:"pixel_distance" yaml:"pixel_distance"`
	DistanceMM    *float64    `json:"distance_mm,omitempty" yaml:"distance_mm,omitempty"`
}

// Measure 计算两个框中心点之间的距离。
// 未标定时 DistanceMM 为 nil，中心点仍然有效。
func Measure(b1, b2 yolo.Box, cal *Calibrator) Measurement {
	c1, c2 := b1.Center(), b2.Center()
	m := Measurement{
		Center1:       c1,
		Center2:       c2,
		PixelDistance: math.Hypot(float64(c2.X-c1.X), float64(c2.Y-c1.Y)),
	}
	if ratio, ok := cal.PixelPerMM(); ok {
		mm := yolo.Round2(m.PixelDistance / ratio)
		m.DistanceMM = &mm
	}
	return m
}

// MeasureDetections 同 Measure，并带上两个目标的标签
func MeasureDetections(d1, d2 yolo.Detection, cal *Calibrator) Measurement {
	m := Measure(d1.Box, d2.Box, cal)
	m.Label1 = d1.Label
	m.Label2 = d2.Label
	return m
}

// Midpoint 两个中心点的中点
func (m Measurement) Midpoint() image.Point {
	return image.Pt((m.Center1.X+m.Center2.X)/2, (m.Center1.Y+m.Center2.Y)/2)
}
