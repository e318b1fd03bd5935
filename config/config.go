// Package config 应用程序 YAML 配置
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("配置无效")

// 输入源类型
const (
	SourceFile    = "file"
	SourceCamera  = "camera"
	SourceYouTube = "youtube"
	SourceURL     = "url"
)

// AppConfig 应用程序配置
type AppConfig struct {
	Model    ModelConfig   `yaml:"model"`
	Classes  ClassesConfig `yaml:"classes"`
	Source   SourceConfig  `yaml:"source"`
	Output   OutputConfig  `yaml:"output"`
	Measure  MeasureConfig `yaml:"measure"`
	Display  DisplayConfig `yaml:"display"`
	RunLog   RunLogConfig  `yaml:"runlog"`
	LogLevel string        `yaml:"log_level"`
}

// ModelConfig 模型与推理配置
type ModelConfig struct {
	Path          string  `yaml:"path"`
	InputSize     int     `yaml:"input_size"`
	UseGPU        bool    `yaml:"use_gpu"`
	GPUDeviceID   int     `yaml:"gpu_device_id"`
	LibraryPath   string  `yaml:"library_path"`
	ConfThreshold float32 `yaml:"conf_threshold"`
	IOUThreshold  float32 `yaml:"iou_threshold"`
}

// ClassesConfig 类别配置，Names 优先于 File
type ClassesConfig struct {
	File  string   `yaml:"file"`
	Names []string `yaml:"names"`
}

// SourceConfig 输入源配置
type SourceConfig struct {
	Type         string `yaml:"type"` // file / camera / youtube / url
	Path         string `yaml:"path"` // 文件路径、摄像头设备或远程URL
	KeepDownload bool   `yaml:"keep_download"`
	DownloadDir  string `yaml:"download_dir"`
}

// OutputConfig 输出视频配置
type OutputConfig struct {
	Path          string  `yaml:"path"`
	Quality       float64 `yaml:"quality"`
	PreserveAudio bool    `yaml:"preserve_audio"`
}

// MeasureConfig 距离测量配置
type MeasureConfig struct {
	ReferenceLabel   string   `yaml:"reference_label"`
	ReferenceWidthMM float64  `yaml:"reference_width_mm"`
	Labels           []string `yaml:"labels"`
	StrictReads      bool     `yaml:"strict_reads"`
}

// DisplayConfig 实时窗口与绘制配置
type DisplayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Title      string `yaml:"title"`
	MaxWidth   int    `yaml:"max_width"`
	MaxHeight  int    `yaml:"max_height"`
	DrawBoxes  bool   `yaml:"draw_boxes"`
	DrawLabels bool   `yaml:"draw_labels"`
	DrawCoords bool   `yaml:"draw_coords"`
}

// RunLogConfig 检测日志导出配置，Path 为空时不导出
type RunLogConfig struct {
	Path string `yaml:"path"`
}

// Default 返回默认配置
func Default() *AppConfig {
	return &AppConfig{
		Model: ModelConfig{
			Path:          "models/best.onnx",
			InputSize:     640,
			ConfThreshold: 0.4,
			IOUThreshold:  0.5,
		},
		Source: SourceConfig{
			Type: SourceFile,
			Path: "temp/final_test_video.mp4",
		},
		Output: OutputConfig{
			Path:          "static/output.mp4",
			Quality:       0.8,
			PreserveAudio: true,
		},
		Measure: MeasureConfig{
			ReferenceLabel:   "scale",
			ReferenceWidthMM: 300,
			Labels:           []string{"Bottle", "Book"},
		},
		Display: DisplayConfig{
			Enabled:    true,
			Title:      "Live Detection",
			MaxWidth:   1280,
			MaxHeight:  720,
			DrawBoxes:  true,
			DrawLabels: true,
			DrawCoords: true,
		},
		LogLevel: "info",
	}
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	if c.Model.Path == "" {
		return errors.Wrap(ErrInvalidConfig, "model.path 不能为空")
	}
	if c.Model.ConfThreshold < 0 || c.Model.ConfThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "model.conf_threshold 必须在 [0,1] 内: %v", c.Model.ConfThreshold)
	}
	if c.Model.IOUThreshold < 0 || c.Model.IOUThreshold > 1 {
		return errors.Wrapf(ErrInvalidConfig, "model.iou_threshold 必须在 [0,1] 内: %v", c.Model.IOUThreshold)
	}

	switch strings.ToLower(c.Source.Type) {
	case SourceFile, SourceYouTube, SourceURL:
		if c.Source.Path == "" {
			return errors.Wrapf(ErrInvalidConfig, "source.path 不能为空（类型 %s）", c.Source.Type)
		}
	case SourceCamera:
	default:
		return errors.Wrapf(ErrInvalidConfig, "不支持的输入源类型: %q", c.Source.Type)
	}

	if c.Output.Path == "" {
		return errors.Wrap(ErrInvalidConfig, "output.path 不能为空")
	}
	if c.Output.Quality < 0 || c.Output.Quality > 1 {
		return errors.Wrapf(ErrInvalidConfig, "output.quality 必须在 [0,1] 内: %v", c.Output.Quality)
	}
	if c.Measure.ReferenceLabel == "" {
		return errors.Wrap(ErrInvalidConfig, "measure.reference_label 不能为空")
	}
	if c.Measure.ReferenceWidthMM <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "measure.reference_width_mm 必须大于0: %v", c.Measure.ReferenceWidthMM)
	}
	return nil
}

// ConfigManager 配置管理器
type ConfigManager struct {
	config *AppConfig
	path   string
}

// NewConfigManager 创建配置管理器
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		path: configPath,
	}
}

// Path 配置文件路径
func (cm *ConfigManager) Path() string {
	return cm.path
}

// LoadConfig 加载配置文件，缺省字段使用默认值
func (cm *ConfigManager) LoadConfig() error {
	data, err := os.ReadFile(cm.path)
	if err != nil {
		return errors.Wrap(err, "读取配置文件失败")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, "解析配置文件失败")
	}

	cm.config = cfg
	return nil
}

// SaveConfig 保存配置文件
func (cm *ConfigManager) SaveConfig() error {
	data, err := yaml.Marshal(cm.Config())
	if err != nil {
		return errors.Wrap(err, "序列化配置失败")
	}

	if dir := filepath.Dir(cm.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "创建配置目录失败")
		}
	}
	if err := os.WriteFile(cm.path, data, 0o644); err != nil {
		return errors.Wrap(err, "保存配置文件失败")
	}

	return nil
}

// CreateDefaultConfig 创建默认配置文件
func (cm *ConfigManager) CreateDefaultConfig() error {
	cm.config = Default()
	return cm.SaveConfig()
}

// Config 返回完整配置，未加载时返回默认配置
func (cm *ConfigManager) Config() *AppConfig {
	if cm.config == nil {
		cm.config = Default()
	}
	return cm.config
}

// GetModelConfig 获取模型配置
func (cm *ConfigManager) GetModelConfig() *ModelConfig {
	return &cm.Config().Model
}

// GetSourceConfig 获取输入源配置
func (cm *ConfigManager) GetSourceConfig() *SourceConfig {
	return &cm.Config().Source
}

// GetMeasureConfig 获取测量配置
func (cm *ConfigManager) GetMeasureConfig() *MeasureConfig {
	return &cm.Config().Measure
}

// GetDisplayConfig 获取显示配置
func (cm *ConfigManager) GetDisplayConfig() *DisplayConfig {
	return &cm.Config().Display
}
