package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/news"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("TOKEN",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(rate.Inf, 1),
		WithLogger(logger.Discard()),
	)
}

func TestSendMessageReturnsMessageID(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":42,"chat":{"id":-100,"type":"channel"},"text":"hi"}}`)
	})

	id, err := c.SendMessage(context.Background(), "@channel", "<b>hi</b>", SendOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
	assert.Equal(t, "@channel", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, false, got["disable_web_page_preview"])
}

func TestSendMessageAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":7}}`)
	})

	_, err := c.SendMessage(context.Background(), "1", "x", SendOptions{DisablePreview: true})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, 7, apiErr.RetryAfter)
}

func TestSendMessageGarbageResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	})
	_, err := c.SendMessage(context.Background(), "1", "x", SendOptions{})
	assert.Error(t, err)
}

func TestGetUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 11, body["offset"])
		assert.EqualValues(t, 30, body["timeout"])
		fmt.Fprint(w, `{"ok":true,"result":[{"update_id":11,"message":{"message_id":5,"chat":{"id":99,"type":"private"},"text":"/status"}}]}`)
	})

	ups, err := c.GetUpdates(context.Background(), 11, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.EqualValues(t, 99, ups[0].Message.Chat.ID)
	assert.Equal(t, "/status", ups[0].Message.Text)
}

func TestFormatArticle(t *testing.T) {
	item := news.ScoredItem{
		CandidateItem: news.CandidateItem{
			Title:   "Chips & <Dips>",
			Summary: strings.Repeat("word ", 60),
			Link:    "https://example.com/a?b=1&c=2",
		},
		Category: "ai",
	}

	msg := FormatArticle(item, "🤖", 50, false)
	assert.True(t, strings.HasPrefix(msg, "🤖 #AI\n\n<b>Chips &amp; &lt;Dips&gt;</b>\n\n"))
	assert.Contains(t, msg, "word word...")
	assert.Contains(t, msg, `<a href="https://example.com/a?b=1&amp;c=2">Читать полностью</a>`)
	assert.NotContains(t, msg, "СРОЧНО")

	urgent := FormatArticle(item, "", 0, true)
	assert.True(t, strings.HasPrefix(urgent, BreakingMarker+"\n"+DefaultEmoji))
}
