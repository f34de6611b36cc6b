package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/storage"
	"github.com/deusflow/technews/internal/telegram"
)

// Sender is the part of the Telegram client the deliverer and notifier use.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string, opts telegram.SendOptions) (int64, error)
}

// TelegramDeliverer posts items to the channel. At most maxUrgent posts per
// rolling hour carry the breaking marker; the rest go out as regular posts.
type TelegramDeliverer struct {
	sender     Sender
	channel    string
	rules      *news.Rules
	summaryLen int
	maxUrgent  int
	engagement storage.EngagementStore
	log        *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	urgent []time.Time
}

func NewTelegramDeliverer(sender Sender, channel string, rules *news.Rules, summaryLen, maxUrgent int,
	engagement storage.EngagementStore, log *slog.Logger) *TelegramDeliverer {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramDeliverer{
		sender:     sender,
		channel:    channel,
		rules:      rules,
		summaryLen: summaryLen,
		maxUrgent:  maxUrgent,
		engagement: engagement,
		log:        log,
		now:        time.Now,
	}
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, item news.ScoredItem) (string, error) {
	urgent := item.Urgent && d.urgentAvailable()

	emoji := ""
	if c, ok := d.rules.Category(item.Category); ok {
		emoji = c.Emoji
	}
	text := telegram.FormatArticle(item, emoji, d.summaryLen, urgent)

	msgID, err := d.sender.SendMessage(ctx, d.channel, text, telegram.SendOptions{})
	if err != nil {
		return "", fmt.Errorf("send %q: %w", item.ID, err)
	}
	postedAt := d.now()
	if urgent {
		d.markUrgent(postedAt)
	}

	deliveryID := strconv.FormatInt(msgID, 10)
	if d.engagement != nil {
		seed := storage.EngagementSample{DeliveryID: deliveryID, PostedAt: postedAt}
		if err := d.engagement.UpsertEngagement(ctx, seed); err != nil {
			d.log.Warn("failed to seed engagement sample", "delivery_id", deliveryID, "error", err)
		}
	}
	return deliveryID, nil
}

func (d *TelegramDeliverer) urgentAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneUrgent(d.now())
	return len(d.urgent) < d.maxUrgent
}

func (d *TelegramDeliverer) markUrgent(ts time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urgent = append(d.urgent, ts)
}

func (d *TelegramDeliverer) pruneUrgent(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(d.urgent) && !d.urgent[i].After(cutoff) {
		i++
	}
	d.urgent = d.urgent[i:]
}

// adminNotifier forwards operator messages to the admin chat. Failures are
// only logged.
type adminNotifier struct {
	sender Sender
	chatID string
	log    *slog.Logger
}

func (n *adminNotifier) Notify(ctx context.Context, text string) {
	if n.chatID == "" {
		return
	}
	if _, err := n.sender.SendMessage(ctx, n.chatID, text, telegram.SendOptions{DisablePreview: true}); err != nil {
		n.log.Warn("admin notification failed", "error", err)
	}
}
