// Package remote holds the progress-sync stores used for authenticated
// students. A store keeps one snapshot per (identity, test) pair, so a
// student can resume on another device.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/examprep/internal/model"
)

// Store is a remote snapshot store. Load returns nil, nil when no
// snapshot exists.
type Store interface {
	Save(ctx context.Context, identity string, snap model.ProgressSnapshot) error
	Load(ctx context.Context, identity, testID string) (*model.ProgressSnapshot, error)
	LoadAll(ctx context.Context, identity string) ([]model.ProgressSnapshot, error)
	Close() error
}

// Drivers accepted by Open.
const (
	DriverNone     = "none"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Open connects to the remote store selected by driver. It returns nil, nil
// for DriverNone or an empty driver, meaning remote sync is disabled.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverPostgres:
		p, err := NewPostgres(ctx, dsn, PoolConfig{MaxConns: 10, MaxConnLifetime: time.Hour})
		if err != nil {
			return nil, err
		}
		return p, nil
	case DriverRedis:
		r, err := NewRedis(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown remote driver %q", driver)
}

// ErrNoIdentity is returned when a snapshot is saved without an identity.
var ErrNoIdentity = errors.New("remote: identity is required")

func encodeSnapshot(identity string, snap model.ProgressSnapshot) ([]byte, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	if snap.TestID == "" {
		return nil, errors.New("remote: snapshot has no test id")
	}
	if snap.Answers == nil {
		snap.Answers = model.AnswerTree{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*model.ProgressSnapshot, error) {
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
