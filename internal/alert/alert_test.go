package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebuybot/internal/config"
	"rebuybot/pkg/logging"
)

type recordingChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []Payload
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, alert Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, alert)
	return c.err
}

func (c *recordingChannel) Sent() []Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Payload, len(c.sent))
	copy(out, c.sent)
	return out
}

func TestManager_FansOut(t *testing.T) {
	m := NewManager(logging.NewNopLogger())
	ch1 := &recordingChannel{name: "one"}
	ch2 := &recordingChannel{name: "two", err: errors.New("webhook down")}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	m.Alert(context.Background(), "Bot crashed", "runner exited", Warning, map[string]string{"bot_id": "7"})
	m.Wait()

	require.Len(t, ch1.Sent(), 1)
	require.Len(t, ch2.Sent(), 1)
	got := ch1.Sent()[0]
	assert.Equal(t, "Bot crashed", got.Title)
	assert.Equal(t, Warning, got.Level)
	assert.Equal(t, "7", got.Fields["bot_id"])
}

func TestManager_MinLevel(t *testing.T) {
	m := NewManager(logging.NewNopLogger())
	ch := &recordingChannel{name: "one"}
	m.AddChannel(ch)
	m.SetMinLevel(Error)

	m.Alert(context.Background(), "noise", "", Warning, nil)
	m.Alert(context.Background(), "budget", "", Critical, nil)
	m.Wait()

	sent := ch.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "budget", sent[0].Title)
}

func TestManager_CancelledContextStillDelivers(t *testing.T) {
	m := NewManager(logging.NewNopLogger())
	ch := &recordingChannel{name: "one"}
	m.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Alert(ctx, "late", "", Error, nil)
	m.Wait()

	assert.Len(t, ch.Sent(), 1)
}

func TestManager_NilIsNoop(t *testing.T) {
	var m *Manager
	m.Alert(context.Background(), "x", "y", Critical, nil)
	m.Wait()
	assert.Equal(t, 0, m.Channels())
}

type capturedRequest struct {
	path string
	body map[string]interface{}
}

func captureServer(t *testing.T, status int) (*httptest.Server, <-chan capturedRequest) {
	t.Helper()
	reqs := make(chan capturedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(data, &body)
		reqs <- capturedRequest{path: r.URL.Path, body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, reqs
}

func testPayload() Payload {
	return Payload{
		Level:     Critical,
		Title:     "Restart budget exhausted",
		Message:   "bot 7 stays in error",
		Timestamp: time.Unix(1700000000, 0),
		Fields:    map[string]string{"symbol": "BTCUSDT", "bot_id": "7"},
	}
}

func TestSlackChannel_Send(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	ch := NewSlackChannel(srv.URL + "/hooks/abc")

	require.NoError(t, ch.Send(context.Background(), testPayload()))

	req := <-reqs
	assert.Equal(t, "/hooks/abc", req.path)
	attachments := req.body["attachments"].([]interface{})
	att := attachments[0].(map[string]interface{})
	assert.Equal(t, "#8b0000", att["color"])
	assert.Equal(t, "[CRITICAL] Restart budget exhausted", att["pretext"])
	fields := att["fields"].([]interface{})
	require.Len(t, fields, 2)
	assert.Equal(t, "bot_id", fields[0].(map[string]interface{})["title"])
}

func TestSlackChannel_RejectedWebhook(t *testing.T) {
	srv, _ := captureServer(t, http.StatusForbidden)
	ch := NewSlackChannel(srv.URL)

	err := ch.Send(context.Background(), testPayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slack webhook")
}

func TestTelegramChannel_Send(t *testing.T) {
	srv, reqs := captureServer(t, http.StatusOK)
	ch := newTelegramChannel(srv.URL, "TOKEN", "42")

	require.NoError(t, ch.Send(context.Background(), testPayload()))

	req := <-reqs
	assert.Equal(t, "/botTOKEN/sendMessage", req.path)
	assert.Equal(t, "42", req.body["chat_id"])
	text := req.body["text"].(string)
	assert.Contains(t, text, "*[CRITICAL] Restart budget exhausted*")
	assert.Less(t, strings.Index(text, "bot_id"), strings.Index(text, "symbol"))
}

func TestNewFromConfig(t *testing.T) {
	m := NewFromConfig(config.AlertConfig{}, logging.NewNopLogger())
	assert.Equal(t, 0, m.Channels())

	m = NewFromConfig(config.AlertConfig{
		MinLevel:         "error",
		SlackWebhookURL:  "https://hooks.slack.com/services/x",
		TelegramBotToken: "token",
		TelegramChatID:   "1",
	}, logging.NewNopLogger())
	assert.Equal(t, 2, m.Channels())
	assert.Equal(t, Error, m.minLevel)
}
