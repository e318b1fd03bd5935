package yolo

import (
	"image"
	"math"
)

// Box 检测框，中心点格式 (x_center, y_center, width, height)，单位为原始帧像素
type Box struct {
	XCenter float64 `json:"x_center" yaml:"x_center"`
	YCenter float64 `json:"y_center" yaml:"y_center"`
	Width   float64 `json:"width" yaml:"width"`
	Height  float64 `json:"height" yaml:"height"`
}

// Detection 检测结果结构体
type Detection struct {
	Label      string  `json:"label" yaml:"label"`
	ClassID    int     `json:"class_id" yaml:"class_id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Box        Box     `json:"box" yaml:"box"`
}

// BoxFromXYXY 从 x1, y1, x2, y2 格式创建检测框
func BoxFromXYXY(x1, y1, x2, y2 float64) Box {
	return Box{
		XCenter: (x1 + x2) / 2,
		YCenter: (y1 + y2) / 2,
		Width:   x2 - x1,
		Height:  y2 - y1,
	}
}

// XYXY 转换为 x1, y1, x2, y2 格式
func (b Box) XYXY() [4]float64 {
	return [4]float64{
		b.XCenter - b.Width/2,
		b.YCenter - b.Height/2,
		b.XCenter + b.Width/2,
		b.YCenter + b.Height/2,
	}
}

// Center 返回取整后的中心点像素坐标
func (b Box) Center() image.Point {
	return image.Pt(int(math.Round(b.XCenter)), int(math.Round(b.YCenter)))
}

// Rect 返回整数像素矩形
func (b Box) Rect() image.Rectangle {
	c := b.XYXY()
	return image.Rect(int(c[0]), int(c[1]), int(c[2]), int(c[3]))
}

// Rounded 将坐标保留两位小数（与检测日志格式一致）
func (b Box) Rounded() Box {
	return Box{
		XCenter: Round2(b.XCenter),
		YCenter: Round2(b.YCenter),
		Width:   Round2(b.Width),
		Height:  Round2(b.Height),
	}
}

// Round2 保留两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
