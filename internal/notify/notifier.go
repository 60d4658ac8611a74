package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"atm_algo/internal/models"
)

// Notifier delivers operator messages. Delivery is best effort: failures are
// logged, never returned.
type Notifier interface {
	Send(ctx context.Context, msg string)
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram sends messages to one chat and answers the /positions command.
type Telegram struct {
	bot    sender
	api    *tgbot.BotAPI
	chatID int64
	log    *zap.Logger

	mu        sync.Mutex
	positions func() []models.Position
	stop      chan struct{}
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{
		bot:    b,
		api:    b,
		chatID: chatID,
		log:    log.Named("telegram"),
	}, nil
}

func (t *Telegram) Send(_ context.Context, msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.log.Warn("telegram send failed", zap.Error(err))
	}
}

// ServePositions answers /positions with the given listing until ctx ends or
// Stop is called.
func (t *Telegram) ServePositions(ctx context.Context, positions func() []models.Position) {
	if t.api == nil {
		return
	}
	t.mu.Lock()
	t.positions = positions
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				if upd.Message == nil || upd.Message.Chat.ID != t.chatID {
					continue
				}
				if upd.Message.Command() == "positions" {
					t.Send(ctx, FormatPositions(t.listPositions()))
				}
			}
		}
	}()
}

func (t *Telegram) listPositions() []models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.positions == nil {
		return nil
	}
	return t.positions()
}

func (t *Telegram) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
	if t.api != nil {
		t.api.StopReceivingUpdates()
	}
}

// FormatPositions renders open positions for a chat reply.
func FormatPositions(ps []models.Position) string {
	if len(ps) == 0 {
		return "No open positions"
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Symbol < ps[j].Symbol })
	var b strings.Builder
	fmt.Fprintf(&b, "Open positions: %d\n", len(ps))
	for _, p := range ps {
		fmt.Fprintf(&b, "• %s %s x%d @ %s SL=%s TP=%s\n",
			p.Side, p.Symbol, p.Quantity, p.EntryPrice, p.StopLoss, p.TakeProfit)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Log writes messages to the structured log. Used when no chat is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) Send(_ context.Context, msg string) {
	l.log.Info("notification", zap.String("msg", msg))
}

// Multi fans a message out to every notifier.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg string) {
	for _, n := range m {
		if n != nil {
			n.Send(ctx, msg)
		}
	}
}
