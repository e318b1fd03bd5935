package yolo

import (
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// 全局变量用于管理ONNX Runtime环境（库本身只允许初始化一次）
var (
	ortInitialized bool
	ortMutex       sync.Mutex
)

// YOLO 检测器
type YOLO struct {
	config  *YOLOConfig
	options *DetectionOptions
	classes []string
	session *ort.DynamicAdvancedSession
	device  string
	logger  *zap.SugaredLogger

	inputShape  ort.Shape
	outputShape ort.Shape
}

// NewYOLO 创建新的YOLO检测器。设备选择（CUDA、DirectML、CPU）在这里完成，
// 结果保存在检测器实例上。
func NewYOLO(modelPath string, config *YOLOConfig, options *DetectionOptions, logger *zap.SugaredLogger) (*YOLO, error) {
	if config == nil {
		config = DefaultConfigWithModelPath(modelPath)
	}
	if options == nil {
		options = DefaultDetectionOptions()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	classes, err := resolveClasses(config, logger)
	if err != nil {
		return nil, err
	}

	if err := initEnvironment(config.LibraryPath); err != nil {
		return nil, err
	}

	sessionOptions, device, err := newSessionOptions(config, logger)
	if err != nil {
		return nil, err
	}
	defer sessionOptions.Destroy()

	logger.Infof("📦 加载模型: %s", modelPath)
	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"}, sessionOptions)
	if err != nil {
		return nil, errors.Wrapf(err, "无法加载模型文件 '%s'", modelPath)
	}

	width, height := config.inputDims()
	inputShape := ort.NewShape(1, 3, int64(height), int64(width))
	outputShape := ort.NewShape(1, int64(4+len(classes)), int64(anchorCount(width, height)))
	logger.Infof("📊 输入形状: %v, 输出形状: %v", inputShape, outputShape)

	return &YOLO{
		config:      config,
		options:     options,
		classes:     classes,
		session:     session,
		device:      device,
		logger:      logger,
		inputShape:  inputShape,
		outputShape: outputShape,
	}, nil
}

// resolveClasses 按优先级确定类别：显式列表 > 类别文件 > COCO默认
func resolveClasses(config *YOLOConfig, logger *zap.SugaredLogger) ([]string, error) {
	if len(config.Classes) > 0 {
		return config.Classes, nil
	}
	if config.ClassesPath != "" {
		classes, err := LoadClasses(config.ClassesPath)
		if err != nil {
			return nil, err
		}
		logger.Infof("✅ 成功加载 %d 个类别", len(classes))
		return classes, nil
	}
	logger.Info("💡 使用默认COCO类别列表")
	return DefaultClasses, nil
}

func initEnvironment(libraryPath string) error {
	ortMutex.Lock()
	defer ortMutex.Unlock()

	if ortInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "无法初始化ONNX Runtime")
	}
	ortInitialized = true
	return nil
}

// newSessionOptions 创建会话选项并选择执行设备，GPU不可用时回退到CPU
func newSessionOptions(config *YOLOConfig, logger *zap.SugaredLogger) (*ort.SessionOptions, string, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, "", errors.Wrap(err, "无法创建会话选项")
	}

	threads := runtime.NumCPU()
	if threads > 8 {
		threads = threads * 3 / 4
	}
	if err := sessionOptions.SetIntraOpNumThreads(threads); err != nil {
		logger.Warnf("⚠️  设置线程数失败: %v", err)
	}
	if err := sessionOptions.SetInterOpNumThreads(threads); err != nil {
		logger.Warnf("⚠️  设置操作间线程数失败: %v", err)
	}
	if err := sessionOptions.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		logger.Warnf("⚠️  设置图优化级别失败: %v", err)
	}

	if !config.UseGPU {
		logger.Info("💻 Running on CPU")
		return sessionOptions, "cpu", nil
	}

	err = appendCUDA(sessionOptions, config.GPUDeviceID)
	if err == nil {
		logger.Infof("🚀 Running on GPU (cuda:%d)", config.GPUDeviceID)
		return sessionOptions, fmt.Sprintf("cuda:%d", config.GPUDeviceID), nil
	}
	logger.Warnf("⚠️  CUDA不可用: %v", err)

	err = appendDirectML(sessionOptions, config.GPUDeviceID)
	if err == nil {
		logger.Infof("🚀 Running on GPU (directml:%d)", config.GPUDeviceID)
		return sessionOptions, fmt.Sprintf("directml:%d", config.GPUDeviceID), nil
	}
	logger.Warnf("⚠️  DirectML不可用: %v", err)

	logger.Info("💻 GPU加速失败，Running on CPU")
	return sessionOptions, "cpu", nil
}

// appendCUDA 添加CUDA执行提供者，部分ONNX Runtime构建会在这里panic
func appendCUDA(sessionOptions *ort.SessionOptions, deviceID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("CUDA初始化发生panic: %v", r)
		}
	}()

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOptions.Destroy()

	if err := cudaOptions.Update(map[string]string{
		"device_id": fmt.Sprintf("%d", deviceID),
	}); err != nil {
		return err
	}
	return sessionOptions.AppendExecutionProviderCUDA(cudaOptions)
}

func appendDirectML(sessionOptions *ort.SessionOptions, deviceID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("DirectML初始化发生panic: %v", r)
		}
	}()
	return sessionOptions.AppendExecutionProviderDirectML(deviceID)
}

// anchorCount 计算 stride 8/16/32 三个检测头的候选框总数（640输入时为8400）
func anchorCount(width, height int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		total += (width / stride) * (height / stride)
	}
	return total
}

// Device 返回实际使用的执行设备
func (y *YOLO) Device() string {
	return y.device
}

// Classes 返回类别列表
func (y *YOLO) Classes() []string {
	return y.classes
}

// Close 关闭YOLO检测器
func (y *YOLO) Close() {
	if y.session != nil {
		y.session.Destroy()
		y.session = nil
	}
}

// DestroyEnvironment 销毁ONNX Runtime环境（在所有检测器都关闭后调用）
func DestroyEnvironment() {
	ortMutex.Lock()
	defer ortMutex.Unlock()
	if ortInitialized {
		ort.DestroyEnvironment()
		ortInitialized = false
	}
}

// Detect 检测一帧图像，返回检测结果和已绘制检测框的副本
func (y *YOLO) Detect(img image.Image) ([]Detection, *image.RGBA, error) {
	detections, err := y.detectImage(img)
	if err != nil {
		return nil, nil, err
	}
	return detections, Annotate(img, detections, y.options), nil
}

// detectImage 对单张图像推理并把坐标还原到原始图像尺寸
func (y *YOLO) detectImage(img image.Image) ([]Detection, error) {
	if y.session == nil {
		return nil, errors.New("检测器已关闭")
	}

	bounds := img.Bounds()
	width, height := y.config.inputDims()

	inputData := preprocess(img, width, height)
	inputTensor, err := ort.NewTensor(y.inputShape, inputData)
	if err != nil {
		return nil, errors.Wrap(err, "无法创建输入张量")
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](y.outputShape)
	if err != nil {
		return nil, errors.Wrap(err, "无法创建输出张量")
	}
	defer outputTensor.Destroy()

	if err := y.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, errors.Wrap(err, "推理失败")
	}

	scaleX := float64(bounds.Dx()) / float64(width)
	scaleY := float64(bounds.Dy()) / float64(height)

	detections := parseDetections(outputTensor.GetData(), outputTensor.GetShape(),
		y.classes, y.options.ConfThreshold, scaleX, scaleY)
	detections = nonMaxSuppression(detections, y.options.IOUThreshold)

	for i := range detections {
		detections[i].Confidence = Round2(detections[i].Confidence)
		detections[i].Box = detections[i].Box.Rounded()
	}
	return detections, nil
}

// preprocess 缩放并归一化为 NCHW [1, 3, h, w]
func preprocess(img image.Image, width, height int) []float32 {
	resized := imaging.Resize(img, width, height, imaging.Linear)

	data := make([]float32, 3*height*width)
	plane := height * width
	for y := 0; y < height; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < width; x++ {
			i := x * 4
			data[y*width+x] = float32(row[i]) / 255.0
			data[plane+y*width+x] = float32(row[i+1]) / 255.0
			data[2*plane+y*width+x] = float32(row[i+2]) / 255.0
		}
	}
	return data
}

// parseDetections 解析 [1, 4+C, N] 格式的输出，坐标按 scaleX/scaleY 还原
func parseDetections(outputData []float32, outputShape []int64, classes []string,
	confThreshold float32, scaleX, scaleY float64) []Detection {
	if len(outputShape) != 3 || outputShape[0] != 1 {
		return nil
	}

	numFeatures := int(outputShape[1])
	numDetections := int(outputShape[2])
	numClasses := numFeatures - 4
	if numClasses <= 0 || len(outputData) < numFeatures*numDetections {
		return nil
	}

	var detections []Detection
	for i := 0; i < numDetections; i++ {
		var bestScore float32
		bestID := 0
		for c := 0; c < numClasses; c++ {
			score := outputData[(4+c)*numDetections+i]
			if score > bestScore {
				bestScore = score
				bestID = c
			}
		}
		if bestScore < confThreshold {
			continue
		}

		label := "unknown"
		if bestID < len(classes) {
			label = classes[bestID]
		}

		detections = append(detections, Detection{
			Label:      label,
			ClassID:    bestID,
			Confidence: float64(bestScore),
			Box: Box{
				XCenter: float64(outputData[i]) * scaleX,
				YCenter: float64(outputData[numDetections+i]) * scaleY,
				Width:   float64(outputData[2*numDetections+i]) * scaleX,
				Height:  float64(outputData[3*numDetections+i]) * scaleY,
			},
		})
	}
	return detections
}

// iou 计算两个框的交并比
func iou(a, b Box) float64 {
	ac, bc := a.XYXY(), b.XYXY()

	interW := min(ac[2], bc[2]) - max(ac[0], bc[0])
	interH := min(ac[3], bc[3]) - max(ac[1], bc[1])
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	return inter / (a.Width*a.Height + b.Width*b.Height - inter + 1e-6)
}

// nonMaxSuppression 按分数排序后做非极大抑制（同类别之间）
func nonMaxSuppression(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	keep := make([]Detection, 0, len(detections))
	for _, current := range detections {
		suppressed := false
		for _, kept := range keep {
			if kept.ClassID == current.ClassID && iou(current.Box, kept.Box) > float64(iouThreshold) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, current)
		}
	}
	return keep
}
