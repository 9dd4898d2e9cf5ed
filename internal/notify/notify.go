// Package notify delivers operator messages. Delivery is best-effort: Send never blocks
// the caller and failures are only logged.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/addhe/awan-t-bot-sub000/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Telegram rejects longer texts.
const maxMessageLen = 4096

// Notifier sends text messages to the operator.
type Notifier interface {
	Send(text string)
	// Close flushes queued messages until ctx is done.
	Close(ctx context.Context) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(string) {}

func (Nop) Close(context.Context) error { return nil }

// New returns a Telegram notifier when enabled, otherwise Nop.
func New(cfg models.TelegramConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewTelegram(cfg, logger)
}

// Telegram queues messages and posts them from one goroutine, paced by a token bucket.
type Telegram struct {
	client  *http.Client
	url     string
	chatID  string
	limiter *rate.Limiter
	logger  *zap.Logger

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewTelegram(cfg models.TelegramConfig, logger *zap.Logger) *Telegram {
	perSecond := cfg.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Telegram{
		client:  &http.Client{Timeout: 10 * time.Second},
		url:     fmt.Sprintf("%s/bot%s/sendMessage", cfg.APIURL, cfg.BotToken),
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
		queue:   make(chan string, size),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go t.loop()
	return t
}

// Send enqueues text. When the queue is full the message is dropped.
func (t *Telegram) Send(text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- text:
	default:
		t.logger.Warn("notification queue full, dropping message", zap.Int("len", len(text)))
	}
}

// Close stops accepting messages and waits for the queue to drain or ctx to end.
func (t *Telegram) Close(ctx context.Context) error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.queue)
		t.mu.Unlock()
	})
	select {
	case <-t.done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-t.done
		return ctx.Err()
	}
}

func (t *Telegram) loop() {
	defer close(t.done)
	for text := range t.queue {
		if err := t.limiter.Wait(t.ctx); err != nil {
			// cancelled: drain without sending
			continue
		}
		if err := t.post(t.ctx, text); err != nil {
			t.logger.Warn("failed to send telegram message", zap.Error(err))
		}
	}
}

func (t *Telegram) post(ctx context.Context, text string) error {
	if len(text) > maxMessageLen {
		text = text[:maxMessageLen-3] + "..."
	}
	payload, err := json.Marshal(map[string]string{
		"chat_id": t.chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, body)
	}
	return nil
}
