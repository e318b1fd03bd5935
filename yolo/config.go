package yolo

import (
	"path/filepath"
	"strings"
)

// YOLOConfig YOLO检测器配置（检测器级别 - 创建时设置）
type YOLOConfig struct {
	InputSize   int      // 输入尺寸（正方形时使用）
	InputWidth  int      // 输入宽度（非正方形时使用）
	InputHeight int      // 输入高度（非正方形时使用）
	UseGPU      bool     // 是否使用GPU
	GPUDeviceID int      // GPU设备ID（默认0，仅在UseGPU=true时有效）
	LibraryPath string   // ONNX Runtime库路径
	Classes     []string // 类别列表，为空时使用 ClassesPath 或 COCO 默认类别
	ClassesPath string   // 类别 YAML 文件路径
}

// DetectionOptions 检测选项（运行时级别）
type DetectionOptions struct {
	ConfThreshold float32 // 置信度阈值
	IOUThreshold  float32 // IOU阈值
	DrawBoxes     bool    // 是否绘制检测框
	DrawLabels    bool    // 是否绘制标签
	DrawCoords    bool    // 是否绘制 XYWH 坐标文本
	BoxColor      string  // 检测框颜色
	LabelColor    string  // 标签颜色
	CoordColor    string  // 坐标文本颜色
	LineWidth     int     // 线条宽度
	FontSize      int     // 字体大小
}

// DefaultConfig 返回默认配置（CPU，640输入）
func DefaultConfig() *YOLOConfig {
	return &YOLOConfig{
		InputSize: 640,
	}
}

// DefaultConfigWithModelPath 根据模型路径推断输入尺寸
func DefaultConfigWithModelPath(modelPath string) *YOLOConfig {
	cfg := DefaultConfig()
	if size := detectModelInputSize(modelPath); size > 0 {
		cfg.InputSize = size
	}
	return cfg
}

// detectModelInputSize 根据常见的YOLO模型文件名推断输入尺寸，无法推断时返回0
func detectModelInputSize(modelPath string) int {
	filename := strings.ToLower(filepath.Base(modelPath))
	for _, size := range []struct {
		token string
		value int
	}{
		{"1280", 1280}, {"1024", 1024}, {"832", 832}, {"736", 736},
		{"640", 640}, {"608", 608}, {"512", 512}, {"416", 416}, {"320", 320},
	} {
		if strings.Contains(filename, size.token) {
			return size.value
		}
	}
	return 0
}

// WithInputSize 设置输入尺寸（正方形）
func (c *YOLOConfig) WithInputSize(size int) *YOLOConfig {
	c.InputSize = size
	c.InputWidth = 0
	c.InputHeight = 0
	return c
}

// WithInputDimensions 设置输入尺寸（宽度和高度）
func (c *YOLOConfig) WithInputDimensions(width, height int) *YOLOConfig {
	c.InputWidth = width
	c.InputHeight = height
	c.InputSize = 0
	return c
}

// WithGPU 设置是否使用GPU
func (c *YOLOConfig) WithGPU(use bool) *YOLOConfig {
	c.UseGPU = use
	return c
}

// WithGPUDeviceID 设置GPU设备ID
func (c *YOLOConfig) WithGPUDeviceID(deviceID int) *YOLOConfig {
	c.GPUDeviceID = deviceID
	return c
}

// WithLibraryPath 设置ONNX Runtime库路径
func (c *YOLOConfig) WithLibraryPath(path string) *YOLOConfig {
	c.LibraryPath = path
	return c
}

// WithClasses 设置类别列表
func (c *YOLOConfig) WithClasses(classes []string) *YOLOConfig {
	c.Classes = classes
	return c
}

// WithClassesPath 设置类别文件路径
func (c *YOLOConfig) WithClassesPath(path string) *YOLOConfig {
	c.ClassesPath = path
	return c
}

// inputDims 返回模型输入的宽和高
func (c *YOLOConfig) inputDims() (int, int) {
	if c.InputWidth > 0 && c.InputHeight > 0 {
		return c.InputWidth, c.InputHeight
	}
	return c.InputSize, c.InputSize
}

// DefaultDetectionOptions 默认检测选项
func DefaultDetectionOptions() *DetectionOptions {
	return &DetectionOptions{
		ConfThreshold: 0.4,
		IOUThreshold:  0.5,
		DrawBoxes:     true,
		DrawLabels:    true,
		DrawCoords:    true,
		BoxColor:      "red",
		LabelColor:    "white",
		CoordColor:    "black",
		LineWidth:     2,
		FontSize:      12,
	}
}

// WithConfThreshold 设置置信度阈值
func (o *DetectionOptions) WithConfThreshold(threshold float32) *DetectionOptions {
	o.ConfThreshold = threshold
	return o
}

// WithIOUThreshold 设置IOU阈值
func (o *DetectionOptions) WithIOUThreshold(threshold float32) *DetectionOptions {
	o.IOUThreshold = threshold
	return o
}

// WithDrawBoxes 设置是否画框
func (o *DetectionOptions) WithDrawBoxes(draw bool) *DetectionOptions {
	o.DrawBoxes = draw
	return o
}

// WithDrawLabels 设置是否画标签
func (o *DetectionOptions) WithDrawLabels(draw bool) *DetectionOptions {
	o.DrawLabels = draw
	return o
}

// WithDrawCoords 设置是否绘制坐标文本
func (o *DetectionOptions) WithDrawCoords(draw bool) *DetectionOptions {
	o.DrawCoords = draw
	return o
}

// WithBoxColor 设置框的颜色
func (o *DetectionOptions) WithBoxColor(color string) *DetectionOptions {
	o.BoxColor = color
	return o
}

// WithLabelColor 设置标签的颜色
func (o *DetectionOptions) WithLabelColor(color string) *DetectionOptions {
	o.LabelColor = color
	return o
}

// WithLineWidth 设置线条宽度
func (o *DetectionOptions) WithLineWidth(width int) *DetectionOptions {
	o.LineWidth = width
	return o
}

// WithFontSize 设置字体大小
func (o *DetectionOptions) WithFontSize(size int) *DetectionOptions {
	o.FontSize = size
	return o
}
