package admin

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/deusflow/technews/internal/app"
	"github.com/deusflow/technews/internal/cadence"
	"github.com/deusflow/technews/internal/governor"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/storage"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "02.01.2006"

	// Telegram rejects messages longer than 4096 characters.
	maxMessageLen = 4000
)

const helpText = `Доступные команды:
/status - Проверить статус бота
/stats - Показать статистику публикаций
/top - Показать топ статей
/events - Показать предстоящие события
/pause &lt;часы&gt; - Приостановить публикации
/resume - Возобновить публикации
/reset_delay - Сбросить дополнительную задержку
/scores - Показать таблицу оценок статей
/optimal_time - Показать оптимальное время публикаций
/help - Показать эту справку`

func renderStatus(st app.Status, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("🤖 Статус бота:\n\n")

	if st.State == governor.Paused && st.PauseUntil != nil {
		b.WriteString("📴 Бот на паузе\n")
		fmt.Fprintf(&b, "⏳ Пауза до: %s\n", st.PauseUntil.In(loc).Format(timeLayout))
	} else {
		fmt.Fprintf(&b, "✅ Бот активен, состояние: %s\n", st.State)
	}

	if st.LastPublication.IsZero() {
		b.WriteString("🕒 Публикаций еще не было\n")
	} else {
		fmt.Fprintf(&b, "🕒 Последняя публикация: %s\n", st.LastPublication.In(loc).Format(timeLayout))
	}
	fmt.Fprintf(&b, "📊 Публикаций за последний час: %d\n", st.PublicationsLastHour)

	if st.ExtraDelayMinutes > 0 {
		fmt.Fprintf(&b, "🐢 Дополнительная задержка: %d мин\n", st.ExtraDelayMinutes)
	}
	if st.DeferredUntil != nil {
		fmt.Fprintf(&b, "⏭ Следующий цикл не раньше: %s\n", st.DeferredUntil.In(loc).Format(timeLayout))
	}
	return b.String()
}

func renderProfile(p cadence.Profile) string {
	var b strings.Builder
	b.WriteString("🕰 Оптимальное время для публикаций:\n\n")
	for _, h := range p.Hours {
		fmt.Fprintf(&b, "• %02d:00 - %02d:00\n", h, (h+1)%24)
	}
	if p.Default {
		b.WriteString("\nДанных о вовлеченности пока нет, используется расписание по умолчанию.")
	} else {
		b.WriteString("\nЭти данные основаны на анализе вовлеченности аудитории за последние 30 дней.")
	}
	return b.String()
}

func renderTop(top []storage.RankedPublication, loc *time.Location) string {
	if len(top) == 0 {
		return "Пока нет публикаций со статистикой."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 Топ-%d статей:\n\n", len(top))
	for _, p := range top {
		fmt.Fprintf(&b, "Заголовок: %s\nДата: %s\nПросмотры: %d, Репосты: %d, Реакции: %d\n\n",
			html.EscapeString(p.Title), p.PublishedAt.In(loc).Format(timeLayout), p.Views, p.Forwards, p.Reactions)
	}
	return b.String()
}

// renderStats splits the weekly stats into messages under the Telegram limit.
func renderStats(samples []storage.EngagementSample, loc *time.Location) []string {
	if len(samples) == 0 {
		return []string{"За последнюю неделю статистики нет."}
	}
	lines := make([]string, 0, len(samples)+1)
	lines = append(lines, "📊 Статистика публикаций за последнюю неделю:\n")
	for _, s := range samples {
		lines = append(lines, fmt.Sprintf("ID: %s, Время: %s, Просмотры: %d, Репосты: %d, Реакции: %d",
			html.EscapeString(s.DeliveryID), s.PostedAt.In(loc).Format(timeLayout), s.Views, s.Forwards, s.Reactions))
	}
	return chunkLines(lines, maxMessageLen)
}

func renderEvents(events []storage.Event) string {
	if len(events) == 0 {
		return "На ближайшее время нет запланированных событий."
	}
	var b strings.Builder
	b.WriteString("📅 Предстоящие события в мире технологий:\n\n")
	for i, e := range events {
		kw := e.Keywords
		if len(kw) > 5 {
			kw = kw[:5]
		}
		fmt.Fprintf(&b, "%d. <b>%s</b>\n", i+1, html.EscapeString(e.Name))
		fmt.Fprintf(&b, "   📆 %s\n", e.Date.Format(dateLayout))
		if len(kw) > 0 {
			fmt.Fprintf(&b, "   🔑 %s\n", html.EscapeString(strings.Join(kw, ", ")))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderScores prints the per-signal breakdown of the best candidates.
func renderScores(scored []news.ScoredItem, limit int) string {
	if len(scored) == 0 {
		return "Нет статей для оценки."
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}

	var b strings.Builder
	b.WriteString("🏆 Таблица оценок статей:\n\n<pre>")
	fmt.Fprintf(&b, "%-32s | %5s | %5s | %4s | %4s | %4s | %4s | %4s | %4s\n",
		"Заголовок", "Общ.", "Кат.", "Наст", "Соб.", "Вр.", "Ист.", "Длин", "Важн")
	b.WriteString(strings.Repeat("-", 90))
	b.WriteString("\n")
	for _, s := range scored {
		bd := s.Breakdown
		title := s.Title
		if s.Urgent {
			title = "⚡" + title
		}
		fmt.Fprintf(&b, "%-32s | %5.2f | %5.2f | %4.2f | %4.1f | %4.1f | %4.1f | %4.1f | %4.1f\n",
			html.EscapeString(clip(title, 32)), s.Score, bd.Base, bd.Sentiment, bd.Event, bd.Recency, bd.Source, bd.Length, bd.Importance)
	}
	b.WriteString("</pre>")
	return b.String()
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func chunkLines(lines []string, limit int) []string {
	var out []string
	var b strings.Builder
	for _, l := range lines {
		if b.Len() > 0 && b.Len()+len(l)+1 > limit {
			out = append(out, b.String())
			b.Reset()
		}
		b.WriteString(l)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
