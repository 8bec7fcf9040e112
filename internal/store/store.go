// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/chef-cts/internal/domain"
)

// Repository persists per-turn operational metadata.
type Repository interface {
	// RecordTurn stores the outcome of one relayed turn.
	RecordTurn(ctx context.Context, turn *domain.TurnRecord) error

	// TurnStats aggregates turns started at or after since.
	TurnStats(ctx context.Context, since time.Time) (*domain.TurnStats, error)

	// DeleteTurnsBefore removes turns older than cutoff and returns how many were removed.
	DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
