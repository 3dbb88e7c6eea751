package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/vds/internal/config"
	"github.com/your-org/vds/internal/models"
)

// ErrNotFound is returned when a detection record does not exist.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS detection_history (
	id                  BIGSERIAL PRIMARY KEY,
	request_id          UUID NOT NULL UNIQUE,
	filename            TEXT NOT NULL,
	room                TEXT,
	detection_date      TEXT,
	detection_time      TEXT,
	processed_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	violence_detected   BOOLEAN NOT NULL,
	positive_frames     INTEGER NOT NULL DEFAULT 0,
	frames_sampled      INTEGER NOT NULL DEFAULT 0,
	mean_confidence     REAL NOT NULL DEFAULT 0,
	original_video_path TEXT NOT NULL,
	result_video_path   TEXT NOT NULL,
	screenshot_path     TEXT,
	object_prefix       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS detection_history_processed_at_idx ON detection_history (processed_at DESC);
`

const detectionColumns = `id, request_id, filename, room, detection_date, detection_time, processed_at,
	violence_detected, positive_frames, frames_sampled, mean_confidence,
	original_video_path, result_video_path, screenshot_path, object_prefix`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the detection_history table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate detection_history: %w", err)
	}
	return nil
}

// CreateDetection inserts d and fills in its generated id and timestamp.
func (s *PostgresStore) CreateDetection(ctx context.Context, d *models.Detection) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO detection_history (request_id, filename, room, detection_date, detection_time, processed_at,
			violence_detected, positive_frames, frames_sampled, mean_confidence,
			original_video_path, result_video_path, screenshot_path, object_prefix)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id, processed_at`,
		d.RequestID, d.Filename, d.Room, d.DetectionDate, d.DetectionTime, d.ProcessedAt,
		d.ViolenceDetected, d.PositiveFrames, d.FramesSampled, d.MeanConfidence,
		d.OriginalVideoPath, d.ResultVideoPath, d.ScreenshotPath, d.ObjectPrefix,
	).Scan(&d.ID, &d.ProcessedAt)
	if err != nil {
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

// DetectionQuery filters ListDetections.
type DetectionQuery struct {
	ViolenceOnly bool
	Limit        int
	Offset       int
}

func (q DetectionQuery) page() (limit, offset int) {
	limit, offset = q.Limit, q.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListDetections returns records newest first, plus the total matching count.
func (s *PostgresStore) ListDetections(ctx context.Context, q DetectionQuery) ([]models.Detection, int, error) {
	where := ""
	if q.ViolenceOnly {
		where = "WHERE violence_detected"
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM detection_history "+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	limit, offset := q.page()
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM detection_history %s ORDER BY processed_at DESC, id DESC LIMIT $1 OFFSET $2`,
			detectionColumns, where),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var out []models.Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}
	return out, total, nil
}

// GetDetection returns a single record or ErrNotFound.
func (s *PostgresStore) GetDetection(ctx context.Context, id int64) (*models.Detection, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM detection_history WHERE id = $1`, detectionColumns), id)
	d, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDetection(row pgx.Row) (*models.Detection, error) {
	var d models.Detection
	err := row.Scan(&d.ID, &d.RequestID, &d.Filename, &d.Room, &d.DetectionDate, &d.DetectionTime,
		&d.ProcessedAt, &d.ViolenceDetected, &d.PositiveFrames, &d.FramesSampled, &d.MeanConfidence,
		&d.OriginalVideoPath, &d.ResultVideoPath, &d.ScreenshotPath, &d.ObjectPrefix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan detection: %w", err)
	}
	return &d, nil
}
