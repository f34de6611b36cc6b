package translate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/news"
	"github.com/deusflow/technews/internal/ratelimit"
)

type fakeGen struct {
	calls int
	out   string
	err   error
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	return f.out, f.err
}

func item(id string) news.CandidateItem {
	return news.CandidateItem{ID: id, Title: "Robots learn to walk", Summary: "A lab taught robots."}
}

func TestAITranslateUsesCache(t *testing.T) {
	gen := &fakeGen{out: "TITLE: Роботы учатся ходить\nSUMMARY: Лаборатория обучила роботов.\n(Note: machine translation)"}
	quota := ratelimit.NewDailyQuota("gemini", 10, logger.Discard())
	ai := NewAI(gen, "ru", quota, logger.Discard())

	got, err := ai.Translate(context.Background(), item("1"))
	require.NoError(t, err)
	assert.Equal(t, "Роботы учатся ходить", got.Title)
	assert.Equal(t, "Лаборатория обучила роботов.", got.Summary)
	assert.Equal(t, "1", got.ID)

	again, err := ai.Translate(context.Background(), item("2"))
	require.NoError(t, err)
	assert.Equal(t, got.Title, again.Title)
	assert.Equal(t, 1, gen.calls, "same text is served from cache")
	assert.Equal(t, 1, quota.Stats().CacheHits)
}

func TestAITranslateQuotaAndErrors(t *testing.T) {
	gen := &fakeGen{err: errors.New("model down")}
	quota := ratelimit.NewDailyQuota("gemini", 1, logger.Discard())
	ai := NewAI(gen, "ru", quota, logger.Discard())

	orig := item("1")
	got, err := ai.Translate(context.Background(), orig)
	require.Error(t, err)
	assert.Equal(t, orig, got)

	other := news.CandidateItem{ID: "2", Title: "Other"}
	_, err = ai.Translate(context.Background(), other)
	assert.ErrorIs(t, err, ratelimit.ErrQuotaExceeded)
}

func TestAllKeepsOriginalsOnFailure(t *testing.T) {
	gen := &fakeGen{out: "garbage without labels"}
	ai := NewAI(gen, "ru", nil, logger.Discard())

	items := []news.CandidateItem{item("1"), {ID: "2", Title: "Second"}}
	out := All(context.Background(), ai, items, logger.Discard())
	assert.Equal(t, items, out)

	out = All(context.Background(), Noop{}, items, nil)
	assert.Equal(t, items, out)
}

func TestParseResponseMultiline(t *testing.T) {
	r, err := parseResponse("**TITLE:** Новый чип\nSUMMARY: Первая строка.\nВторая строка.")
	require.NoError(t, err)
	assert.Equal(t, "Новый чип", r.Title)
	assert.Equal(t, "Первая строка. Вторая строка.", r.Summary)
}

func TestSanitizeAIText(t *testing.T) {
	cases := map[string]struct {
		in, want string
	}{
		"inline":    {"Текст (Note: This is a machine translation.) продолжается", "Текст продолжается"},
		"full line": {"Note: machine translation\nВ Марракеше идут протесты.", "В Марракеше идут протесты."},
		"bracketed": {"[Note: Machine translation] Это тестовая строка.", "Это тестовая строка."},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			out := SanitizeAIText(tc.in)
			assert.Equal(t, tc.want, out)
			assert.False(t, strings.Contains(strings.ToLower(out), "note"))
		})
	}
}

func TestParseResponseSkipsNoteLines(t *testing.T) {
	r, err := parseResponse("TITLE: Заголовок\nSUMMARY: Текст.\nNote: this is a machine translation")
	require.NoError(t, err)
	assert.Equal(t, "Текст.", r.Summary)
}
