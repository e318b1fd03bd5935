package pipeline

import (
	"time"

	"github.com/Cubiaa/yolo-distance/measure"
	"github.com/Cubiaa/yolo-distance/yolo"
)

// FrameResult 单帧检测结果。Distance 只在恰好有两个目标参与测量的帧上存在。
type FrameResult struct {
	FrameIndex int                  `json:"frame" yaml:"frame"`
	Detections []yolo.Detection     `json:"detections" yaml:"detections"`
	Distance   *measure.Measurement `json:"distance,omitempty" yaml:"distance,omitempty"`
}

// RunLog 一次运行的完整记录
type RunLog struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Source     string        `json:"source" yaml:"source"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	PixelPerMM *float64      `json:"pixel_per_mm,omitempty" yaml:"pixel_per_mm,omitempty"`
	Stopped    bool          `json:"stopped" yaml:"stopped"`
	Frames     []FrameResult `json:"frames" yaml:"frames"`
}

// DistanceFrames 带距离测量的帧
func (l RunLog) DistanceFrames() []FrameResult {
	var out []FrameResult
	for _, f := range l.Frames {
		if f.Distance != nil {
			out = append(out, f)
		}
	}
	return out
}
