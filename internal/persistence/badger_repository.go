package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"github.com/dgraph-io/badger/v3"
)

var (
	statusKey       = []byte("bot_status")
	activeTradesKey = []byte("active_trades")
	closedPrefix    = []byte("closed_trade/")
)

// BadgerStore is the BadgerDB implementation of StatusStore.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database at dbPath. An empty path opens an in-memory database.
func NewBadgerStore(dbPath string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dbPath)
	if dbPath == "" {
		opts = opts.WithInMemory(true)
	}
	// Badger's own logging is noisy; errors still come back from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (r *BadgerStore) SaveStatus(ctx context.Context, status *models.BotStatus) error {
	return r.put(statusKey, status)
}

func (r *BadgerStore) LoadStatus(ctx context.Context) (*models.BotStatus, error) {
	var status models.BotStatus
	found, err := r.get(statusKey, &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}

func (r *BadgerStore) SaveActiveTrades(ctx context.Context, positions []models.Position) error {
	if positions == nil {
		positions = []models.Position{}
	}
	return r.put(activeTradesKey, positions)
}

func (r *BadgerStore) LoadActiveTrades(ctx context.Context) ([]models.Position, error) {
	positions := []models.Position{}
	if _, err := r.get(activeTradesKey, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// AppendClosedTrade stores the trade under a key ordered by exit time, so history
// scans are range reads. Rewriting an identical trade leaves a single entry.
func (r *BadgerStore) AppendClosedTrade(ctx context.Context, trade models.ClosedTrade) error {
	return r.put(closedTradeKey(trade), trade)
}

func (r *BadgerStore) ClosedTrades(ctx context.Context, since time.Time) ([]models.ClosedTrade, error) {
	var trades []models.ClosedTrade
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		var from int64
		if since.After(time.Unix(0, 0)) {
			from = since.UnixNano()
		}
		start := append(append([]byte{}, closedPrefix...), []byte(fmt.Sprintf("%020d", from))...)
		for it.Seek(start); it.ValidForPrefix(closedPrefix); it.Next() {
			var trade models.ClosedTrade
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &trade)
			}); err != nil {
				return err
			}
			trades = append(trades, trade)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trades, nil
}

// Close gracefully closes the connection to the database.
func (r *BadgerStore) Close() error {
	return r.db.Close()
}

func closedTradeKey(trade models.ClosedTrade) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", closedPrefix, trade.ExitTime.UnixNano(), trade.Symbol))
}

func (r *BadgerStore) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// get decodes the value under key into v and reports whether the key existed.
func (r *BadgerStore) get(key []byte, v any) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("value is empty in database")
			}
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
