package notifications

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `notifications:
  - label: "Stand up"
    cron: "0 0 * * * MON-FRI *"
    level: "Warning"
  - label: "Broken"
    cron: "0 0 * * *"
  - label: "Lunch"
    cron: "0 0 12 * * * *"
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifications.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	list, err := Load(writeFile(t, sample))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Stand up", list[0].Label)
	assert.Equal(t, "0 0 * * * MON-FRI *", list[0].Cron)
	assert.Equal(t, "Warning", list[0].Level)
	assert.Equal(t, "", list[2].Level)
}

func TestLoad_Empty(t *testing.T) {
	list, err := Load(writeFile(t, "  \n"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := LoadOrEmpty(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeFile(t, "notifications: [\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Notification{Label: "x", Cron: "* * * * * * *"}.Validate())
	assert.NoError(t, Notification{Label: " ", Cron: "* * * * * * *"}.Validate())
	assert.ErrorIs(t, Notification{Label: "x", Cron: "* * *"}.Validate(), cronexpr.ErrFieldCount)
}

func TestSaveAppendRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "notifications.yaml")

	require.NoError(t, Append(path, Notification{Label: "a", Cron: "0 * * * * * *"}))
	require.NoError(t, Append(path, Notification{Label: "b", Cron: "0 0 * * * * *", Level: "Critical"}))
	assert.Error(t, Append(path, Notification{Label: "bad", Cron: "nope"}))

	list, err := Load(path)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Info", list[0].Level)
	assert.Equal(t, "Critical", list[1].Level)

	removed, err := RemoveAt(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "a", removed.Label)

	_, err = RemoveAt(path, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	list, err = Load(path)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].Label)
}

type fakeRegistrar struct {
	entries []scheduler.Entry
}

func (f *fakeRegistrar) Replace(entries []scheduler.Entry) []scheduler.JobID {
	f.entries = entries
	ids := make([]scheduler.JobID, len(entries))
	for i := range ids {
		ids[i] = scheduler.NewJobID()
	}
	return ids
}

func TestRegister(t *testing.T) {
	list, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	reg := &fakeRegistrar{}
	report := Register(reg, cronexpr.NewParser(time.UTC), list)

	require.Len(t, report.Registered, 2)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, 1, report.Rejected[0].Index)
	assert.ErrorIs(t, report.Err(), cronexpr.ErrFieldCount)

	require.Len(t, reg.entries, 2)
	assert.Equal(t, "Stand up", reg.entries[0].Payload.Label)
	assert.Equal(t, scheduler.LevelWarning, reg.entries[0].Payload.Level)
	assert.Equal(t, "notifications[0]", reg.entries[0].Payload.Source)
	assert.Equal(t, "notifications[2]", reg.entries[1].Payload.Source)
	assert.Equal(t, scheduler.LevelInfo, reg.entries[1].Payload.Level)
	assert.Equal(t, 2, report.Registered[1].Index)
}

func TestRegister_UnlabelledStillScheduled(t *testing.T) {
	reg := &fakeRegistrar{}
	report := Register(reg, cronexpr.NewParser(time.UTC), []Notification{{Cron: "0 0 12 * * * *"}})
	assert.NoError(t, report.Err())
	require.Len(t, reg.entries, 1)
	assert.Empty(t, reg.entries[0].Payload.Label)
}

func TestAppend_RequiresLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.yaml")
	assert.ErrorIs(t, Append(path, Notification{Label: "  ", Cron: "0 0 12 * * * *"}), ErrLabelRequired)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestRegister_AllValid(t *testing.T) {
	reg := &fakeRegistrar{}
	report := Register(reg, cronexpr.NewParser(nil), []Notification{{Label: "a", Cron: "* * * * * * *"}})
	assert.NoError(t, report.Err())
	assert.Len(t, report.Registered, 1)
}

func TestWatcher_Debounces(t *testing.T) {
	path := writeFile(t, sample)

	var calls atomic.Int32
	w := NewWatcher(path, 50*time.Millisecond, func(context.Context) { calls.Add(1) }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
