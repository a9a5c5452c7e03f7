package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunNoOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runs := 0
	var mu sync.Mutex

	task := NewTask("t", "t", "", "0 * * * * *", func(context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		close(started)
		<-release
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		task.Run(context.Background())
	}()
	<-started

	snap := task.Snapshot()
	assert.Equal(t, TaskRunning, snap.State)
	require.NotNil(t, snap.RunningSince)

	// второй запуск поверх бегущего — тихий no-op
	task.Run(context.Background())
	mu.Lock()
	assert.Equal(t, 1, runs)
	mu.Unlock()

	close(release)
	wg.Wait()

	snap = task.Snapshot()
	assert.Equal(t, TaskIdle, snap.State)
	assert.Nil(t, snap.RunningSince)
	assert.NotEmpty(t, snap.LastRunDuration)
}

func TestRunDisabled(t *testing.T) {
	runs := 0
	task := NewTask("t", "t", "", "0 * * * * *", func(context.Context) error {
		runs++
		return nil
	})

	task.SetEnabled(false)
	task.Run(context.Background())
	assert.Zero(t, runs)
	assert.Equal(t, TaskIdle, task.Snapshot().State)

	task.SetEnabled(true)
	task.Run(context.Background())
	assert.Equal(t, 1, runs)
}

func TestRunFailureSetsState(t *testing.T) {
	task := NewTask("t", "t", "", "0 * * * * *", func(context.Context) error {
		return errors.New("db gone")
	})
	task.Run(context.Background())
	assert.Equal(t, TaskFailed, task.Snapshot().State)

	// следующий успешный запуск возвращает IDLE
	task.job = func(context.Context) error { return nil }
	task.Run(context.Background())
	assert.Equal(t, TaskIdle, task.Snapshot().State)
}

func TestRunRecoversPanic(t *testing.T) {
	task := NewTask("t", "t", "", "0 * * * * *", func(context.Context) error {
		panic("boom")
	})
	assert.NotPanics(t, func() {
		task.Run(context.Background())
	})
	assert.Equal(t, TaskFailed, task.Snapshot().State)
}

func TestRegisterValidation(t *testing.T) {
	s := New()
	ok := NewTask("a", "a", "", "0 */5 * * * *", func(context.Context) error { return nil })
	require.NoError(t, s.Register(ok))

	dup := NewTask("a", "a2", "", "0 * * * * *", func(context.Context) error { return nil })
	require.Error(t, s.Register(dup))

	bad := NewTask("b", "b", "", "not a schedule", func(context.Context) error { return nil })
	require.Error(t, s.Register(bad))

	snaps := s.List()
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].ID)
}

func TestRunNow(t *testing.T) {
	done := make(chan struct{})
	s := New()
	require.NoError(t, s.Register(NewTask("a", "a", "", "0 * * * * *", func(context.Context) error {
		close(done)
		return nil
	})))

	require.ErrorIs(t, s.RunNow("missing"), ErrTaskNotFound)
	require.NoError(t, s.RunNow("a"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSetEnabledUnknown(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.SetEnabled("missing", false), ErrTaskNotFound)
	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
}
