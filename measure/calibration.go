// Package measure 根据参考物体的已知宽度把像素距离换算成毫米距离
package measure

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Cubiaa/yolo-distance/yolo"
)

// ErrInvalidReference 参考物体配置无效（标签为空或宽度不大于0）
var ErrInvalidReference = errors.New("参考物体配置无效")

// CalibrationStatus Update 的结果
type CalibrationStatus int

const (
	// NotFound 本帧没有出现参考物体，仍未标定
	NotFound CalibrationStatus = iota
	// NewlyCalibrated 本帧完成了标定
	NewlyCalibrated
	// AlreadyCalibrated 之前已经标定，本帧未扫描
	AlreadyCalibrated
)

func (s CalibrationStatus) String() string {
	switch s {
	case NotFound:
		return "not_found"
	case NewlyCalibrated:
		return "newly_calibrated"
	case AlreadyCalibrated:
		return "already_calibrated"
	default:
		return fmt.Sprintf("CalibrationStatus(%d)", int(s))
	}
}

// Calibrator 像素/毫米比例标定器。
// 比例只在第一次看到参考物体时设置，之后整个运行期间不再改变。
type Calibrator struct {
	ReferenceLabel   string
	ReferenceWidthMM float64

	pixelPerMM *float64
}

// NewCalibrator 创建标定器
func NewCalibrator(label string, widthMM float64) (*Calibrator, error) {
	if label == "" {
		return nil, errors.Wrap(ErrInvalidReference, "参考标签不能为空")
	}
	if widthMM <= 0 {
		return nil, errors.Wrapf(ErrInvalidReference, "参考宽度必须大于0，当前为 %.2f mm", widthMM)
	}
	return &Calibrator{ReferenceLabel: label, ReferenceWidthMM: widthMM}, nil
}

// Update 用本帧的检测结果尝试标定
func (c *Calibrator) Update(detections []yolo.Detection) CalibrationStatus {
	if c.pixelPerMM != nil {
		return AlreadyCalibrated
	}
	for _, d := range detections {
		// 宽度非正的框不能产生正的比例
		if d.Label != c.ReferenceLabel || d.Box.Width <= 0 {
			continue
		}
		ratio := d.Box.Width / c.ReferenceWidthMM
		c.pixelPerMM = &ratio
		return NewlyCalibrated
	}
	return NotFound
}

// PixelPerMM 返回比例，未标定时第二个返回值为 false
func (c *Calibrator) PixelPerMM() (float64, bool) {
	if c == nil || c.pixelPerMM == nil {
		return 0, false
	}
	return *c.pixelPerMM, true
}

// Calibrated 是否已完成标定
func (c *Calibrator) Calibrated() bool {
	_, ok := c.PixelPerMM()
	return ok
}
