package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Cubiaa/yolo-distance/config"
	"github.com/Cubiaa/yolo-distance/gui"
	"github.com/Cubiaa/yolo-distance/logging"
	"github.com/Cubiaa/yolo-distance/measure"
	"github.com/Cubiaa/yolo-distance/pipeline"
	"github.com/Cubiaa/yolo-distance/runlog"
	"github.com/Cubiaa/yolo-distance/source"
	"github.com/Cubiaa/yolo-distance/yolo"
)

// loadConfig 读取配置文件（未指定时使用默认配置）并用命令行参数覆盖
func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg := config.Default()
	if path := c.String(flagConfig); path != "" {
		cm := config.NewConfigManager(path)
		if err := cm.LoadConfig(); err != nil {
			return nil, err
		}
		cfg = cm.Config()
	}

	if c.IsSet(flagModel) {
		cfg.Model.Path = c.String(flagModel)
	}
	if c.IsSet(flagClasses) {
		cfg.Classes.File = c.String(flagClasses)
	}
	if c.IsSet(flagGPU) {
		cfg.Model.UseGPU = c.Bool(flagGPU)
	}
	if c.IsSet(flagConf) {
		cfg.Model.ConfThreshold = float32(c.Float64(flagConf))
	}
	if c.IsSet(flagSourceType) {
		cfg.Source.Type = c.String(flagSourceType)
	}
	if c.IsSet(flagSource) {
		cfg.Source.Path = c.String(flagSource)
	}
	if c.IsSet(flagKeepDownload) {
		cfg.Source.KeepDownload = c.Bool(flagKeepDownload)
	}
	if c.IsSet(flagOutput) {
		cfg.Output.Path = c.String(flagOutput)
	}
	if c.IsSet(flagReferenceLabel) {
		cfg.Measure.ReferenceLabel = c.String(flagReferenceLabel)
	}
	if c.IsSet(flagReferenceWidth) {
		cfg.Measure.ReferenceWidthMM = c.Float64(flagReferenceWidth)
	}
	if c.IsSet(flagLabels) {
		cfg.Measure.Labels = c.StringSlice(flagLabels)
	}
	if c.IsSet(flagNoDisplay) {
		cfg.Display.Enabled = !c.Bool(flagNoDisplay)
	}
	if c.IsSet(flagStrictReads) {
		cfg.Measure.StrictReads = c.Bool(flagStrictReads)
	}
	if c.IsSet(flagRunLog) {
		cfg.RunLog.Path = c.String(flagRunLog)
	}
	if c.IsSet(flagLogLevel) {
		cfg.LogLevel = c.String(flagLogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDetector 根据配置创建 YOLO 检测器
func newDetector(cfg *config.AppConfig, logger *zap.SugaredLogger) (*yolo.YOLO, error) {
	yoloCfg := yolo.DefaultConfigWithModelPath(cfg.Model.Path).
		WithGPU(cfg.Model.UseGPU).
		WithGPUDeviceID(cfg.Model.GPUDeviceID).
		WithLibraryPath(cfg.Model.LibraryPath).
		WithClasses(cfg.Classes.Names).
		WithClassesPath(cfg.Classes.File)
	if cfg.Model.InputSize > 0 {
		yoloCfg.WithInputSize(cfg.Model.InputSize)
	}

	opts := yolo.DefaultDetectionOptions().
		WithConfThreshold(cfg.Model.ConfThreshold).
		WithIOUThreshold(cfg.Model.IOUThreshold).
		WithDrawBoxes(cfg.Display.DrawBoxes).
		WithDrawLabels(cfg.Display.DrawLabels).
		WithDrawCoords(cfg.Display.DrawCoords)

	return yolo.NewYOLO(cfg.Model.Path, yoloCfg, opts, logger)
}

// videoSink 使用 Vidio 写出标注视频
func videoSink(out config.OutputConfig, logger *zap.SugaredLogger) pipeline.SinkFactory {
	opts := source.WriterOptions{Quality: out.Quality, PreserveAudio: out.PreserveAudio, Logger: logger}
	return func(path string, props source.Properties) (pipeline.Sink, error) {
		w, err := source.NewVideoWriter(path, props, opts)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New("yolo-distance", cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	cal, err := measure.NewCalibrator(cfg.Measure.ReferenceLabel, cfg.Measure.ReferenceWidthMM)
	if err != nil {
		return err
	}

	src, err := source.New(cfg.Source, source.WithLogger(logger))
	if err != nil {
		return err
	}

	detector, err := newDetector(cfg, logger)
	if err != nil {
		return err
	}
	defer yolo.DestroyEnvironment()
	defer detector.Close()

	opts := []pipeline.Option{
		pipeline.WithSink(videoSink(cfg.Output, logger), cfg.Output.Path),
		pipeline.WithLabels(cfg.Measure.Labels),
		pipeline.WithStrictReads(cfg.Measure.StrictReads),
		pipeline.WithLogger(logger),
	}

	var viewer *gui.Viewer
	if cfg.Display.Enabled {
		viewer = gui.NewViewer(cfg.Display.Title, cfg.Display.MaxWidth, cfg.Display.MaxHeight)
		opts = append(opts, pipeline.WithDisplay(viewer), pipeline.WithStopper(viewer))
	}
	processor := pipeline.NewProcessor(src, detector, cal, opts...)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		results []pipeline.FrameResult
		runErr  error
	)
	work := func() {
		results, runErr = processor.Run(ctx)
	}
	if viewer != nil {
		viewer.Run(work)
	} else {
		work()
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	report := processor.Report()
	logger.Infof("📊 共 %d 帧，其中 %d 帧有距离测量，输出: %s",
		len(results), len(report.DistanceFrames()), cfg.Output.Path)
	if !cal.Calibrated() {
		logger.Warnf("⚠️ 没有检测到参考物体 %q，未能标定", cfg.Measure.ReferenceLabel)
	}

	if cfg.RunLog.Path != "" {
		if err := runlog.Save(cfg.RunLog.Path, report); err != nil {
			return err
		}
		logger.Infof("✅ 检测日志已保存: %s", cfg.RunLog.Path)
	}
	return nil
}

func initConfigAction(c *cli.Context) error {
	cm := config.NewConfigManager(c.String(flagPath))
	if err := cm.CreateDefaultConfig(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "✅ 默认配置已写入 %s\n", cm.Path())
	return nil
}

func listRunsAction(c *cli.Context) error {
	path := c.String(flagDB)
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "打开检测日志失败")
	}

	store, err := runlog.OpenStore(path)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(c.Context)
	if err != nil {
		return err
	}
	for _, r := range runs {
		ratio := "未标定"
		if r.PixelPerMM != nil {
			ratio = fmt.Sprintf("%.4f px/mm", *r.PixelPerMM)
		}
		fmt.Fprintf(c.App.Writer, "%s  %s  %s  帧:%d  测距:%d  %s\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Source, r.Frames, r.DistanceFrames, ratio)
	}
	return nil
}
