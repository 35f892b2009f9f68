package postgres

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// DSN builds a connection string from its parts.
func DSN(user, password, host string, port int, name string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS frames (
			id BIGSERIAL PRIMARY KEY,
			filename TEXT NOT NULL UNIQUE,
			resolution TEXT NOT NULL,
			topic TEXT NOT NULL,
			correlation_id TEXT NOT NULL DEFAULT '',
			sequence BIGINT DEFAULT 0,
			detection_count INT DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL,
			filepath TEXT NOT NULL,
			filesize BIGINT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS detections (
			id BIGSERIAL PRIMARY KEY,
			frame_id BIGINT NOT NULL REFERENCES frames(id) ON DELETE CASCADE,
			object_name TEXT NOT NULL,
			class_id INT DEFAULT 0,
			confidence DOUBLE PRECISION DEFAULT 0,
			x1 DOUBLE PRECISION DEFAULT 0,
			y1 DOUBLE PRECISION DEFAULT 0,
			x2 DOUBLE PRECISION DEFAULT 0,
			y2 DOUBLE PRECISION DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_frames_topic ON frames (topic);
		CREATE INDEX IF NOT EXISTS idx_frames_resolution ON frames (resolution);
		CREATE INDEX IF NOT EXISTS idx_frames_timestamp ON frames (timestamp);
		CREATE INDEX IF NOT EXISTS idx_detections_object_name ON detections (object_name);
		CREATE INDEX IF NOT EXISTS idx_detections_frame_id ON detections (frame_id);
	`
	_, err := pool.Exec(ctx, schema)
	return err
}

// Close terminates the pool.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// Pool returns the underlying pool for use by repositories.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
