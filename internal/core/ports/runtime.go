package ports

import (
	"context"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

// ConfigProvider loads and watches configuration.
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// EventHandler handles one lifecycle event. Completed events yield the score
// of the materialized interaction when scoring succeeded.
type EventHandler interface {
	Handle(ctx context.Context, event domain.Event) (*domain.Score, error)
}

// EventSource delivers lifecycle events from an external transport to a
// handler until ctx is cancelled.
type EventSource interface {
	Run(ctx context.Context, handler EventHandler) error
	Close() error
}

// BackupSink stores database snapshots.
type BackupSink interface {
	Put(ctx context.Context, name string, path string) (string, error)
}
