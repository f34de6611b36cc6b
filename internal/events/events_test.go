package events

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/technews/internal/logger"
	"github.com/deusflow/technews/internal/retry"
	"github.com/deusflow/technews/internal/storage"
)

const page = `<html><body>
<div class="rhov"><a href="/e1"><div>Jan 5</div><div>DevSummit Berlin</div><div>Berlin, Germany</div></a></div>
<div class="rhov"><a href="/e2"><div>Jan 7-9, 2026</div><div>AI Week</div><div>London</div></a></div>
<div class="rhov"><div>Dec 30, 2025</div><div>Year End Con</div><div>Online</div></div>
<div class="rhov"><div>soon</div><div>Mystery Event</div><div>Somewhere</div></div>
<div class="rhov"><div>Jan 9</div><div>Too few divs</div></div>
</body></html>`

var today = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func TestParseEvents(t *testing.T) {
	evs, err := ParseEvents(strings.NewReader(page), today, logger.Discard())
	require.NoError(t, err)
	require.Len(t, evs, 3)

	assert.Equal(t, "DevSummit Berlin", evs[0].Name)
	assert.True(t, evs[0].Date.Equal(today))
	assert.Equal(t, []string{"berlin", "devsummit", "germany"}, evs[0].Keywords)

	assert.Equal(t, "AI Week", evs[1].Name)
	assert.True(t, evs[1].Date.Equal(time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"london", "week"}, evs[1].Keywords)

	assert.Equal(t, 2025, evs[2].Date.Year())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("September 12-14", today)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("TBA", today)
	assert.Error(t, err)
}

func TestServiceRefreshAndTodayKeywords(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	svc := NewService(NewScraper(srv.URL, srv.Client(), logger.Discard()), store, time.UTC, logger.Discard())
	svc.now = func() time.Time { return today.Add(10 * time.Hour) }
	svc.retry = retry.Config{MaxAttempts: 2, Delay: time.Millisecond}

	n, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "past events are not kept")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	kw, err := svc.TodayKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"berlin", "devsummit", "germany"}}, kw)

	upcoming, err := svc.Upcoming(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "AI Week", upcoming[1].Name)
}

func TestServiceRefreshFailureKeepsStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	store := storage.NewMemoryStore()
	require.NoError(t, store.ReplaceEvents(context.Background(), today, []storage.Event{{Name: "Kept", Date: today, Keywords: []string{"kept"}}}))

	svc := NewService(NewScraper(srv.URL, srv.Client(), logger.Discard()), store, time.UTC, logger.Discard())
	svc.now = func() time.Time { return today }
	svc.retry = retry.Config{MaxAttempts: 1}

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)

	kw, err := svc.TodayKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"kept"}}, kw)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"conference", "world"}, Keywords("World Conference", "the World, NYC"))
}
