// Package runlog 导出与读取检测日志（YAML、JSON、SQLite）
package runlog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Cubiaa/yolo-distance/pipeline"
)

// ErrUnsupportedFormat 不支持的文件扩展名
var ErrUnsupportedFormat = errors.New("不支持的日志格式")

type format int

const (
	formatYAML format = iota
	formatJSON
	formatSQLite
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".json":
		return formatJSON, nil
	case ".db", ".sqlite", ".sqlite3":
		return formatSQLite, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedFormat, "%s", path)
	}
}

// Save 按扩展名保存运行记录。SQLite 文件会追加一条记录。
func Save(path string, log pipeline.RunLog) (err error) {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "创建日志目录失败")
		}
	}

	var data []byte
	switch f {
	case formatSQLite:
		var store *Store
		if store, err = OpenStore(path); err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, store.Close())
		}()
		return store.SaveRun(context.Background(), log)
	case formatJSON:
		data, err = json.MarshalIndent(log, "", "  ")
	default:
		data, err = yaml.Marshal(log)
	}
	if err != nil {
		return errors.Wrap(err, "序列化运行记录失败")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "写入运行记录失败")
}

// Load 读取运行记录。SQLite 文件返回最近的一次运行。
func Load(path string) (log pipeline.RunLog, err error) {
	f, err := formatOf(path)
	if err != nil {
		return log, err
	}

	if f == formatSQLite {
		if _, err := os.Stat(path); err != nil {
			return log, errors.Wrap(err, "读取运行记录失败")
		}
		var store *Store
		if store, err = OpenStore(path); err != nil {
			return log, err
		}
		defer func() {
			err = multierr.Append(err, store.Close())
		}()
		var runs []RunSummary
		if runs, err = store.ListRuns(context.Background()); err != nil {
			return log, err
		}
		if len(runs) == 0 {
			return log, errors.Errorf("%s 中没有运行记录", path)
		}
		return store.LoadRun(context.Background(), runs[0].RunID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return log, errors.Wrap(err, "读取运行记录失败")
	}
	if f == formatJSON {
		err = json.Unmarshal(data, &log)
	} else {
		err = yaml.Unmarshal(data, &log)
	}
	return log, errors.Wrap(err, "解析运行记录失败")
}
