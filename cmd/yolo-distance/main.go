// Package main 命令行入口：读取视频、检测目标、测量两目标间距离并输出标注视频
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig         = "config"
	flagModel          = "model"
	flagClasses        = "classes"
	flagGPU            = "gpu"
	flagConf           = "conf"
	flagSourceType     = "source-type"
	flagSource         = "source"
	flagKeepDownload   = "keep-download"
	flagOutput         = "output"
	flagReferenceLabel = "reference-label"
	flagReferenceWidth = "reference-width"
	flagLabels         = "labels"
	flagNoDisplay      = "no-display"
	flagStrictReads    = "strict-reads"
	flagRunLog         = "runlog"
	flagLogLevel       = "log-level"
	flagPath           = "path"
	flagDB             = "db"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "yolo-distance",
		Usage: "YOLO 目标检测 + 参考物体标定的距离测量",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "YAML 配置文件 `FILE`"},
			&cli.StringFlag{Name: flagModel, Aliases: []string{"m"}, Usage: "ONNX 模型路径"},
			&cli.StringFlag{Name: flagClasses, Usage: "类别 YAML 文件（classes: 或 names:）"},
			&cli.BoolFlag{Name: flagGPU, Usage: "优先使用 GPU（CUDA/DirectML），失败时回退到 CPU"},
			&cli.Float64Flag{Name: flagConf, Usage: "置信度阈值"},
			&cli.StringFlag{Name: flagSourceType, Aliases: []string{"t"}, Usage: "输入源类型: file / camera / youtube / url"},
			&cli.StringFlag{Name: flagSource, Aliases: []string{"i"}, Usage: "视频文件、摄像头设备或远程URL"},
			&cli.BoolFlag{Name: flagKeepDownload, Usage: "保留下载的远程视频"},
			&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "输出视频路径"},
			&cli.StringFlag{Name: flagReferenceLabel, Usage: "参考物体标签"},
			&cli.Float64Flag{Name: flagReferenceWidth, Usage: "参考物体实际宽度（毫米）"},
			&cli.StringSliceFlag{Name: flagLabels, Usage: "参与测距的标签，可重复"},
			&cli.BoolFlag{Name: flagNoDisplay, Usage: "不打开实时窗口"},
			&cli.BoolFlag{Name: flagStrictReads, Usage: "读帧失败时报错而不是结束"},
			&cli.StringFlag{Name: flagRunLog, Usage: "检测日志导出路径（.yaml/.json/.db）"},
			&cli.StringFlag{Name: flagLogLevel, Usage: "日志级别 debug/info/warn/error"},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:  "init-config",
				Usage: "生成默认配置文件",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagPath, Value: "config.yaml", Usage: "配置文件路径"},
				},
				Action: initConfigAction,
			},
			{
				Name:  "runs",
				Usage: "列出 SQLite 检测日志中的运行记录",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDB, Required: true, Usage: "SQLite 文件路径"},
				},
				Action: listRunsAction,
			},
		},
	}
}
