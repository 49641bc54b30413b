package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polis-labs/polis/pkg/identity"
	"github.com/polis-labs/polis/pkg/models"
	"github.com/polis-labs/polis/pkg/store"
)

type sseFrame struct {
	id    string
	event string
	data  string
}

// streamFrames parses SSE frames off the response body. Comment lines
// (": connected", ": keepalive") carry no fields and never surface.
func streamFrames(body io.Reader) <-chan sseFrame {
	out := make(chan sseFrame, 32)
	go func() {
		defer close(out)
		var f sseFrame
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if f != (sseFrame{}) {
					out <- f
				}
				f = sseFrame{}
			case strings.HasPrefix(line, "id: "):
				f.id = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed before the expected frame")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an SSE frame")
		return sseFrame{}
	}
}

func appendEvent(t *testing.T, st *store.Store, eventType, description string) *models.Event {
	t.Helper()
	e := &models.Event{
		EventType:     eventType,
		Description:   description,
		SimulationDay: identity.SimulationDay(time.Now().UTC()),
	}
	require.NoError(t, st.AppendEvent(context.Background(), e))
	return e
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := appendEvent(t, st, "proposal_created", "Agent 1 proposed a ration law")
	second := appendEvent(t, st, "action_executed", "Agent 2 worked the fields")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "0")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	frames := streamFrames(resp.Body)

	f := nextFrame(t, frames)
	assert.Equal(t, strconv.FormatInt(first.ID, 10), f.id)
	assert.Equal(t, "proposal_created", f.event)
	var decoded models.Event
	require.NoError(t, json.Unmarshal([]byte(f.data), &decoded))
	assert.Equal(t, first.Description, decoded.Description)

	f = nextFrame(t, frames)
	assert.Equal(t, strconv.FormatInt(second.ID, 10), f.id)
	assert.Equal(t, "action_executed", f.event)

	// The replay is done, so the subscription is live: a published event
	// arrives without a reconnect.
	third := appendEvent(t, st, "agent_died", "Agent 3 starved")
	srv.broker.Publish(third)

	f = nextFrame(t, frames)
	assert.Equal(t, strconv.FormatInt(third.ID, 10), f.id)
	assert.Equal(t, "agent_died", f.event)
}

func TestEventStreamWithoutCursorSkipsReplay(t *testing.T) {
	srv, st, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	appendEvent(t, st, "proposal_created", "history that must not replay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return srv.broker.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	live := appendEvent(t, st, "action_executed", "fresh trade")
	srv.broker.Publish(live)

	// The first frame is the live event; the ledger history stayed out.
	f := nextFrame(t, streamFrames(resp.Body))
	assert.Equal(t, strconv.FormatInt(live.ID, 10), f.id)
	assert.Equal(t, "action_executed", f.event)
}

func TestEventStreamRejectsBadCursor(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	for _, cursor := range []string{"not-a-number", "-4"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil)
		req.Header.Set("Last-Event-ID", cursor)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "Last-Event-ID")
	}
}
