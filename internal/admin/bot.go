package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deusflow/technews/internal/app"
	"github.com/deusflow/technews/internal/telegram"
)

// BotAPI is the part of the Telegram client the command bot needs.
type BotAPI interface {
	app.Sender
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

const (
	pollTimeout   = 30 * time.Second
	pollErrorWait = 5 * time.Second

	replyForbidden = "У вас нет прав для выполнения этой команды."
	replyUnknown   = "Извините, я не понимаю эту команду. Используйте /help для получения списка доступных команд."
)

// Bot answers operator commands received by long polling. Only /start and
// /help are open to every chat.
type Bot struct {
	api       BotAPI
	adminChat string
	svc       *Service
}

func NewBot(api BotAPI, adminChat string, svc *Service) *Bot {
	return &Bot{api: api, adminChat: adminChat, svc: svc}
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	log := b.svc.log()
	var offset int64
	for {
		updates, err := b.api.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollErrorWait):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || !strings.HasPrefix(u.Message.Text, "/") {
				continue
			}
			chatID := strconv.FormatInt(u.Message.Chat.ID, 10)
			for _, reply := range b.Handle(ctx, u.Message) {
				if _, err := b.api.SendMessage(ctx, chatID, reply, telegram.SendOptions{DisablePreview: true}); err != nil {
					log.Warn("failed to answer command", "chat", chatID, "error", err)
				}
			}
		}
	}
}

// Handle executes one command message and returns the replies to send.
func (b *Bot) Handle(ctx context.Context, msg *telegram.Message) []string {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	args := fields[1:]

	switch cmd {
	case "/start":
		return []string{"Привет! Я бот для публикации новостей. Используй /help для получения списка команд."}
	case "/help":
		return []string{helpText}
	}

	if strconv.FormatInt(msg.Chat.ID, 10) != b.adminChat {
		b.svc.log().Warn("command from non-admin chat rejected", "chat", msg.Chat.ID, "command", cmd)
		return []string{replyForbidden}
	}

	loc := b.svc.loc()
	switch cmd {
	case "/status":
		return []string{renderStatus(b.svc.Engine.Status(), loc)}

	case "/pause":
		d := defaultPause
		if len(args) > 0 {
			hours, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return []string{"Использование: /pause &lt;часы&gt;, например /pause 2"}
			}
			d = time.Duration(hours * float64(time.Hour))
		}
		until, err := b.svc.Pause(ctx, d)
		if err != nil {
			return []string{fmt.Sprintf("Не удалось поставить на паузу: %s", err)}
		}
		return []string{fmt.Sprintf("Публикации приостановлены до %s", until.In(loc).Format(timeLayout))}

	case "/resume":
		b.svc.Resume(ctx)
		return []string{"Публикации возобновлены."}

	case "/reset_delay":
		b.svc.ResetDelay(ctx)
		return []string{"Дополнительная задержка сброшена."}

	case "/optimal_time":
		if b.svc.Cadence == nil {
			return []string{"Оптимизатор расписания отключен."}
		}
		return []string{renderProfile(b.svc.Cadence.Profile())}

	case "/top":
		top, err := b.svc.Top(ctx, topLimit)
		if err != nil {
			return []string{b.failure("top", err)}
		}
		return []string{renderTop(top, loc)}

	case "/stats":
		stats, err := b.svc.Stats(ctx)
		if err != nil {
			return []string{b.failure("stats", err)}
		}
		return renderStats(stats, loc)

	case "/events":
		if b.svc.Events == nil {
			return []string{"Источник событий не настроен."}
		}
		events, err := b.svc.Events.Upcoming(ctx, eventsLimit)
		if err != nil {
			return []string{b.failure("events", err)}
		}
		return []string{renderEvents(events)}

	case "/scores":
		scored, err := b.svc.Engine.Scores(ctx)
		if err != nil {
			return []string{b.failure("scores", err)}
		}
		return []string{renderScores(scored, scoresShown)}
	}

	return []string{replyUnknown}
}

func (b *Bot) failure(cmd string, err error) string {
	b.svc.log().Error("admin command failed", "command", cmd, "error", err)
	return "Не удалось выполнить команду, подробности в логах."
}
