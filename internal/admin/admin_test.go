package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/technews/internal/app"
	"github.com/deusflow/technews/internal/cadence"
	"github.com/deusflow/technews/internal/governor"
	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/metrics"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/storage"
	"github.com/deusflow/technews/internal/telegram"
)

type fakeEngine struct {
	mu         sync.Mutex
	pauseUntil time.Time
	resets     int
	scores     []news.ScoredItem
	scoresErr  error
}

func (e *fakeEngine) Pause(d time.Duration) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseUntil = time.Now().Add(d)
	return e.pauseUntil
}

func (e *fakeEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseUntil = time.Time{}
	e.resets++
}

func (e *fakeEngine) ResetDelay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

func (e *fakeEngine) Status() app.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := app.Status{Status: governor.Status{State: governor.Open, PublicationsLastHour: 2}, ExtraDelayMinutes: 30}
	if !e.pauseUntil.IsZero() {
		until := e.pauseUntil
		st.State = governor.Paused
		st.PauseUntil = &until
	}
	return st
}

func (e *fakeEngine) Scores(context.Context) ([]news.ScoredItem, error) {
	return e.scores, e.scoresErr
}

type staticProfile cadence.Profile

func (p staticProfile) Profile() cadence.Profile { return cadence.Profile(p) }

type captureNotifier struct {
	msgs []string
}

func (n *captureNotifier) Notify(_ context.Context, text string) { n.msgs = append(n.msgs, text) }

func newService(t *testing.T) (*Service, *fakeEngine, *storage.FileStore, *captureNotifier) {
	t.Helper()
	engine := &fakeEngine{}
	store := storage.NewMemoryStore()
	notifier := &captureNotifier{}
	return &Service{
		Engine:     engine,
		Engagement: store,
		Cadence:    staticProfile{Hours: []int{9, 21}},
		Metrics:    metrics.New(),
		Notifier:   notifier,
		Log:        logger.Discard(),
	}, engine, store, notifier
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHTTPPauseResumeStatus(t *testing.T) {
	svc, engine, _, notifier := newService(t)
	srv := NewHTTPServer(":0", svc)

	rec := do(t, srv, http.MethodPost, "/pause?hours=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pause_until")

	rec = do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "paused", st["state"])
	assert.NotNil(t, st["pause_until"])
	assert.EqualValues(t, 2, st["publications_in_last_hour"])
	assert.EqualValues(t, 30, st["current_extra_delay"])
	assert.Contains(t, st, "last_publication_time")

	rec = do(t, srv, http.MethodPost, "/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)
	assert.Equal(t, 1, engine.resets)
	assert.Len(t, notifier.msgs, 2)
}

func TestHTTPPauseRejectsBadHours(t *testing.T) {
	svc, engine, _, _ := newService(t)
	srv := NewHTTPServer(":0", svc)

	for _, q := range []string{"", "?hours=abc", "?hours=0", "?hours=-1", "?hours=1000"} {
		rec := do(t, srv, http.MethodPost, "/pause"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.True(t, engine.pauseUntil.IsZero())
}

func TestHTTPEngagementAndTop(t *testing.T) {
	svc, _, store, _ := newService(t)
	srv := NewHTTPServer(":0", svc)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, storage.PublicationRecord{ID: "a", Title: "Alpha", DeliveryID: "1", PublishedAt: time.Now()}))
	require.NoError(t, store.Record(ctx, storage.PublicationRecord{ID: "b", Title: "Beta", DeliveryID: "2", PublishedAt: time.Now()}))

	posted := time.Now().UTC().Format(time.RFC3339)
	rec := do(t, srv, http.MethodPost, "/engagement",
		`{"delivery_id":"1","posted_at":"`+posted+`","views":10,"forwards":0,"reactions":0}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, srv, http.MethodPost, "/engagement",
		`{"delivery_id":"2","posted_at":"`+posted+`","views":10,"forwards":2,"reactions":1}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodPost, "/engagement", `{"views":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/top?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var top []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &top))
	require.Len(t, top, 2)
	assert.Equal(t, "Beta", top[0]["title"])
	assert.EqualValues(t, 22, top[0]["engagement"])
}

func TestHTTPHealthMetricsAndHours(t *testing.T) {
	svc, _, _, _ := newService(t)
	srv := NewHTTPServer(":0", svc)

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	svc.Metrics.SetError("feeds down")
	rec = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "feeds down")

	svc.Metrics.ObserveCycle(metrics.OutcomeDry, time.Second)
	rec = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "technews_cycles_total")

	rec = do(t, srv, http.MethodGet, "/optimal-hours", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"hours":[9,21]`)
}

func TestHTTPScores(t *testing.T) {
	svc, engine, _, _ := newService(t)
	engine.scores = []news.ScoredItem{{CandidateItem: news.CandidateItem{ID: "x", Title: "X"}, Category: "ai", Score: 3}}
	srv := NewHTTPServer(":0", svc)

	rec := do(t, srv, http.MethodGet, "/scores", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"breakdown"`)

	engine.scoresErr = errors.New("feeds down")
	rec = do(t, srv, http.MethodGet, "/scores", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func message(chatID int64, text string) *telegram.Message {
	return &telegram.Message{MessageID: 1, Chat: telegram.Chat{ID: chatID}, Text: text}
}

func TestBotRejectsNonAdminChats(t *testing.T) {
	svc, engine, _, _ := newService(t)
	bot := NewBot(nil, "100", svc)
	ctx := context.Background()

	assert.Equal(t, []string{replyForbidden}, bot.Handle(ctx, message(5, "/pause 2")))
	assert.True(t, engine.pauseUntil.IsZero())
	assert.Equal(t, []string{replyForbidden}, bot.Handle(ctx, message(5, "/status")))

	help := bot.Handle(ctx, message(5, "/help"))
	require.Len(t, help, 1)
	assert.Contains(t, help[0], "/optimal_time")
}

func TestBotCommands(t *testing.T) {
	svc, engine, store, _ := newService(t)
	bot := NewBot(nil, "100", svc)
	ctx := context.Background()

	out := bot.Handle(ctx, message(100, "/pause@technews_bot 2"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "приостановлены до")
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), engine.pauseUntil, time.Minute)

	out = bot.Handle(ctx, message(100, "/status"))
	assert.Contains(t, out[0], "Бот на паузе")
	assert.Contains(t, out[0], "30 мин")

	out = bot.Handle(ctx, message(100, "/resume"))
	assert.Equal(t, []string{"Публикации возобновлены."}, out)
	assert.True(t, engine.pauseUntil.IsZero())

	out = bot.Handle(ctx, message(100, "/pause soon"))
	assert.Contains(t, out[0], "Использование")

	out = bot.Handle(ctx, message(100, "/optimal_time"))
	assert.Contains(t, out[0], "• 09:00 - 10:00")
	assert.Contains(t, out[0], "• 21:00 - 22:00")

	require.NoError(t, store.UpsertEngagement(ctx, storage.EngagementSample{DeliveryID: "7", PostedAt: time.Now(), Views: 3}))
	out = bot.Handle(ctx, message(100, "/stats"))
	require.Len(t, out, 1)
	assert.Contains(t, out[0], "ID: 7")

	out = bot.Handle(ctx, message(100, "/events"))
	assert.Equal(t, []string{"Источник событий не настроен."}, out)

	engine.scores = []news.ScoredItem{{
		CandidateItem: news.CandidateItem{Title: "Chips <fast>"},
		Score:         3.5,
		Breakdown:     news.Breakdown{Base: 3, Recency: 0.3},
	}}
	out = bot.Handle(ctx, message(100, "/scores"))
	assert.Contains(t, out[0], "Chips &lt;fast&gt;")
	assert.Contains(t, out[0], "3.50")

	out = bot.Handle(ctx, message(100, "/reset_delay"))
	assert.Equal(t, []string{"Дополнительная задержка сброшена."}, out)

	assert.Equal(t, []string{replyUnknown}, bot.Handle(ctx, message(100, "/dance")))
}

type fakeBotAPI struct {
	mu      sync.Mutex
	updates [][]telegram.Update
	sent    []string
	offsets []int64
}

func (f *fakeBotAPI) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]telegram.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if len(f.updates) > 0 {
		batch := f.updates[0]
		f.updates = f.updates[1:]
		f.mu.Unlock()
		return batch, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeBotAPI) SendMessage(_ context.Context, chatID, text string, _ telegram.SendOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chatID+":"+text)
	return int64(len(f.sent)), nil
}

func TestBotRunPollsAndReplies(t *testing.T) {
	svc, _, _, _ := newService(t)
	api := &fakeBotAPI{updates: [][]telegram.Update{{
		{UpdateID: 10, Message: message(100, "/resume")},
		{UpdateID: 11, Message: message(100, "just chatting")},
	}}}
	bot := NewBot(api, "100", svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bot.Run(ctx) }()

	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.offsets) >= 2
	}, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"100:Публикации возобновлены."}, api.sent)
	assert.Equal(t, []int64{0, 12}, api.offsets[:2])
}
