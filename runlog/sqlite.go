package runlog

import (
	"context"
	"database/sql"
	"image"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/Cubiaa/yolo-distance/measure"
	"github.com/Cubiaa/yolo-distance/pipeline"
	"github.com/Cubiaa/yolo-distance/yolo"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	pixel_per_mm REAL,
	stopped INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS frames (
	run_id TEXT NOT NULL,
	frame_index INTEGER NOT NULL,
	has_distance INTEGER NOT NULL DEFAULT 0,
	label1 TEXT,
	label2 TEXT,
	center1_x INTEGER,
	center1_y INTEGER,
	center2_x INTEGER,
	center2_y INTEGER,
	pixel_distance REAL,
	distance_mm REAL,
	PRIMARY KEY (run_id, frame_index),
	FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS detections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	frame_index INTEGER NOT NULL,
	seq INTEGER NOT NULL,
	label TEXT NOT NULL,
	class_id INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	x_center REAL NOT NULL,
	y_center REAL NOT NULL,
	width REAL NOT NULL,
	height REAL NOT NULL,
	FOREIGN KEY (run_id, frame_index) REFERENCES frames(run_id, frame_index) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_detections_frame ON detections(run_id, frame_index);
CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
`

// RunSummary 运行概要
type RunSummary struct {
	RunID          string
	Source         string
	StartedAt      time.Time
	FinishedAt     time.Time
	PixelPerMM     *float64
	Stopped        bool
	Frames         int
	DistanceFrames int
}

// Store SQLite 运行记录存储
type Store struct {
	db *sql.DB
}

// OpenStore 打开（必要时创建）数据库并建表
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, errors.Wrap(err, "打开数据库失败")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "数据库建表失败")
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun 在一个事务中写入整次运行
func (s *Store) SaveRun(ctx context.Context, log pipeline.RunLog) error {
	if log.RunID == "" {
		return errors.New("运行记录缺少 run_id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "开始事务失败")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, started_at, finished_at, pixel_per_mm, stopped) VALUES (?, ?, ?, ?, ?, ?)`,
		log.RunID, log.Source, log.StartedAt, log.FinishedAt, nullFloat(log.PixelPerMM), log.Stopped,
	); err != nil {
		return errors.Wrapf(err, "写入运行 %s 失败", log.RunID)
	}

	frameStmt, err := tx.PrepareContext(ctx, `INSERT INTO frames
		(run_id, frame_index, has_distance, label1, label2, center1_x, center1_y, center2_x, center2_y, pixel_distance, distance_mm)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "准备帧语句失败")
	}
	defer frameStmt.Close()

	detStmt, err := tx.PrepareContext(ctx, `INSERT INTO detections
		(run_id, frame_index, seq, label, class_id, confidence, x_center, y_center, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "准备检测语句失败")
	}
	defer detStmt.Close()

	for _, f := range log.Frames {
		var m measure.Measurement
		if f.Distance != nil {
			m = *f.Distance
		}
		if _, err := frameStmt.ExecContext(ctx, log.RunID, f.FrameIndex, f.Distance != nil,
			m.Label1, m.Label2, m.Center1.X, m.Center1.Y, m.Center2.X, m.Center2.Y,
			m.PixelDistance, nullFloat(m.DistanceMM),
		); err != nil {
			return errors.Wrapf(err, "写入第 %d 帧失败", f.FrameIndex)
		}

		for i, d := range f.Detections {
			if _, err := detStmt.ExecContext(ctx, log.RunID, f.FrameIndex, i, d.Label, d.ClassID, d.Confidence,
				d.Box.XCenter, d.Box.YCenter, d.Box.Width, d.Box.Height,
			); err != nil {
				return errors.Wrapf(err, "写入第 %d 帧检测结果失败", f.FrameIndex)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "提交事务失败")
}

// LoadRun 读取一次完整运行
func (s *Store) LoadRun(ctx context.Context, runID string) (pipeline.RunLog, error) {
	log := pipeline.RunLog{RunID: runID}

	var ratio sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT source, started_at, finished_at, pixel_per_mm, stopped FROM runs WHERE id = ?`, runID,
	).Scan(&log.Source, &log.StartedAt, &log.FinishedAt, &ratio, &log.Stopped)
	if err != nil {
		return log, errors.Wrapf(err, "读取运行 %s 失败", runID)
	}
	log.PixelPerMM = floatPtr(ratio)

	rows, err := s.db.QueryContext(ctx, `SELECT frame_index, has_distance, label1, label2,
		center1_x, center1_y, center2_x, center2_y, pixel_distance, distance_mm
		FROM frames WHERE run_id = ? ORDER BY frame_index`, runID)
	if err != nil {
		return log, errors.Wrap(err, "查询帧失败")
	}
	defer rows.Close()

	byIndex := map[int]int{}
	for rows.Next() {
		var (
			f           pipeline.FrameResult
			hasDistance bool
			m           measure.Measurement
			label1      sql.NullString
			label2      sql.NullString
			c1x, c1y    sql.NullInt64
			c2x, c2y    sql.NullInt64
			pixel, mm   sql.NullFloat64
		)
		if err := rows.Scan(&f.FrameIndex, &hasDistance, &label1, &label2,
			&c1x, &c1y, &c2x, &c2y, &pixel, &mm); err != nil {
			return log, errors.Wrap(err, "读取帧失败")
		}
		if hasDistance {
			m.Label1, m.Label2 = label1.String, label2.String
			m.Center1 = image.Pt(int(c1x.Int64), int(c1y.Int64))
			m.Center2 = image.Pt(int(c2x.Int64), int(c2y.Int64))
			m.PixelDistance = pixel.Float64
			m.DistanceMM = floatPtr(mm)
			f.Distance = &m
		}
		byIndex[f.FrameIndex] = len(log.Frames)
		log.Frames = append(log.Frames, f)
	}
	if err := rows.Err(); err != nil {
		return log, errors.Wrap(err, "读取帧失败")
	}

	detRows, err := s.db.QueryContext(ctx, `SELECT frame_index, label, class_id, confidence,
		x_center, y_center, width, height FROM detections WHERE run_id = ? ORDER BY frame_index, seq`, runID)
	if err != nil {
		return log, errors.Wrap(err, "查询检测结果失败")
	}
	defer detRows.Close()

	for detRows.Next() {
		var (
			frameIndex int
			d          yolo.Detection
		)
		if err := detRows.Scan(&frameIndex, &d.Label, &d.ClassID, &d.Confidence,
			&d.Box.XCenter, &d.Box.YCenter, &d.Box.Width, &d.Box.Height); err != nil {
			return log, errors.Wrap(err, "读取检测结果失败")
		}
		if i, ok := byIndex[frameIndex]; ok {
			log.Frames[i].Detections = append(log.Frames[i].Detections, d)
		}
	}
	return log, errors.Wrap(detRows.Err(), "读取检测结果失败")
}

// ListRuns 列出所有运行，最近的在前
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.source, r.started_at, r.finished_at, r.pixel_per_mm, r.stopped,
		COUNT(f.frame_index), COALESCE(SUM(f.has_distance), 0)
		FROM runs r LEFT JOIN frames f ON f.run_id = r.id
		GROUP BY r.id ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "查询运行列表失败")
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var (
			r     RunSummary
			ratio sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &r.Source, &r.StartedAt, &r.FinishedAt, &ratio, &r.Stopped,
			&r.Frames, &r.DistanceFrames); err != nil {
			return nil, errors.Wrap(err, "读取运行列表失败")
		}
		r.PixelPerMM = floatPtr(ratio)
		runs = append(runs, r)
	}
	return runs, errors.Wrap(rows.Err(), "读取运行列表失败")
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
