package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doughall/notifier/internal/scheduler"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scheduledAt = time.Date(2024, 3, 14, 12, 0, 0, 0, time.UTC)

func testMessage(level scheduler.Level) Message {
	return FromFiring(scheduler.Firing{
		JobID:       scheduler.NewJobID(),
		Payload:     scheduler.Payload{Label: "Stand up", Level: level, Source: "notifications[0]"},
		ScheduledAt: scheduledAt,
		TickAt:      scheduledAt.Add(300 * time.Millisecond),
	}, scheduledAt.Add(400*time.Millisecond))
}

func TestFromFiring(t *testing.T) {
	msg := testMessage(scheduler.LevelWarning)
	assert.Equal(t, "Stand up", msg.Label)
	assert.Equal(t, "notifications[0]", msg.Source)
	assert.True(t, msg.ScheduledAt.Equal(scheduledAt))
	assert.True(t, msg.FiredAt.Equal(scheduledAt.Add(400*time.Millisecond)))
	assert.Equal(t, "Notifier (Warning)", msg.Title())
	assert.Equal(t, "Notifier", testMessage(scheduler.LevelInfo).Title())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	assert.Equal(t, "log", l.Name())

	require.NoError(t, l.Deliver(context.Background(), testMessage(scheduler.LevelCritical)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "Stand up", line["label"])
	assert.Equal(t, "notifications[0]", line["source"])
}

func TestWebhook(t *testing.T) {
	var got Message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, "secret")
	require.NoError(t, err)
	assert.Equal(t, "webhook", wh.Name())

	msg := testMessage(scheduler.LevelInfo)
	require.NoError(t, wh.Deliver(context.Background(), msg))
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, msg.JobID, got.JobID)
	assert.Equal(t, "Stand up", got.Label)
	assert.True(t, got.ScheduledAt.Equal(scheduledAt))
}

func TestWebhook_RetriesThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, "", WithRetry(2, time.Millisecond, 2*time.Millisecond))
	require.NoError(t, err)

	assert.Error(t, wh.Deliver(context.Background(), testMessage(scheduler.LevelInfo)))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhook_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, "")
	require.NoError(t, err)
	err = wh.Deliver(context.Background(), testMessage(scheduler.LevelInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNotConfigured(t *testing.T) {
	_, err := NewWebhook("", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = NewSlack("", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSlack(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s, err := NewSlack(srv.URL, "#reminders")
	require.NoError(t, err)
	require.NoError(t, s.Deliver(context.Background(), testMessage(scheduler.LevelCritical)))

	assert.Equal(t, "Stand up", payload["text"])
	assert.Equal(t, "#reminders", payload["channel"])
	attachments, ok := payload["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	assert.Equal(t, "danger", attachments[0].(map[string]any)["color"])
}

func TestSlack_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := NewSlack(srv.URL, "")
	require.NoError(t, err)
	assert.Error(t, s.Deliver(context.Background(), testMessage(scheduler.LevelInfo)))
}

func TestDesktop_NoBus(t *testing.T) {
	d := NewDesktop(DesktopConfig{})
	d.dial = func() (*dbus.Conn, error) { return nil, errors.New("no session bus") }

	assert.Equal(t, "desktop", d.Name())
	err := d.Deliver(context.Background(), testMessage(scheduler.LevelInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session bus")
	assert.NoError(t, d.Close())
}

func TestDesktop_Defaults(t *testing.T) {
	d := NewDesktop(DesktopConfig{})
	assert.Equal(t, "notifier", d.cfg.AppName)
	assert.Equal(t, DefaultSound, d.cfg.Sound)
	assert.Equal(t, urgencyCritical, urgencyFor(scheduler.LevelCritical))
	assert.Equal(t, urgencyNormal, urgencyFor(scheduler.LevelInfo))
}
