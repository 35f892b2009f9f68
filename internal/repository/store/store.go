// Package store opens the record store selected by configuration.
package store

import (
	"context"
	"fmt"
	"strings"

	"objectdetection/internal/config"
	"objectdetection/internal/repository"
	"objectdetection/internal/repository/postgres"
	"objectdetection/internal/repository/sqlite"
)

// Store kinds accepted in STORE_KIND.
const (
	KindNone     = "none"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Store bundles the repositories of one backend.
type Store struct {
	Kind       string
	Frames     repository.FrameRepository
	Detections repository.DetectionRepository
	close      func() error
}

// Open connects to the backend named by cfg.StoreKind. KindNone returns a nil
// Store and no error.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch strings.ToLower(cfg.StoreKind) {
	case "", KindNone:
		return nil, nil
	case KindSQLite:
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return &Store{
			Kind:       KindSQLite,
			Frames:     sqlite.NewFrameRepository(db),
			Detections: sqlite.NewDetectionRepository(db),
			close:      db.Close,
		}, nil
	case KindPostgres:
		db, err := postgres.New(ctx, postgres.DSN(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName))
		if err != nil {
			return nil, err
		}
		return &Store{
			Kind:       KindPostgres,
			Frames:     postgres.NewFrameRepository(db),
			Detections: postgres.NewDetectionRepository(db),
			close:      db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.StoreKind)
	}
}

// Close releases the backend. It is safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
