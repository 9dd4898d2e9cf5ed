package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
)

// StatusStore is the durable home of the bot status, the active position set and the
// closed trade history. Writes are last-write-wins; the history is append-only.
type StatusStore interface {
	SaveStatus(ctx context.Context, status *models.BotStatus) error
	// LoadStatus returns (nil, nil) when no status was saved yet.
	LoadStatus(ctx context.Context) (*models.BotStatus, error)

	SaveActiveTrades(ctx context.Context, positions []models.Position) error
	// LoadActiveTrades returns an empty slice when nothing was saved yet.
	LoadActiveTrades(ctx context.Context) ([]models.Position, error)

	AppendClosedTrade(ctx context.Context, trade models.ClosedTrade) error
	// ClosedTrades returns trades that exited at or after since, oldest first.
	ClosedTrades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error)

	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(cfg models.StoreConfig) (StatusStore, error) {
	switch cfg.Driver {
	case "badger":
		return NewBadgerStore(cfg.Path)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
