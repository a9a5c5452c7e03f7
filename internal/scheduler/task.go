package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshreg/internal/logs"
)

// Состояния задачи.
const (
	TaskIdle    = "IDLE"
	TaskRunning = "RUNNING"
	TaskFailed  = "FAILED"
)

// Job — тело периодической задачи.
type Job func(ctx context.Context) error

// Task — периодическая задача с защитой от наложения запусков:
// пока RunningSince выставлен, повторный Run — тихий no-op. Состояние
// живёт только в памяти и строится заново при старте процесса.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Schedule    string `json:"schedule"` // cron с полем секунд

	mu              sync.Mutex
	state           string
	runningSince    *time.Time
	lastRunStarted  *time.Time
	lastRunDuration time.Duration
	enabled         bool

	job Job
}

func NewTask(id, name, description, schedule string, job Job) *Task {
	return &Task{
		ID:          id,
		Name:        name,
		Description: description,
		Schedule:    schedule,
		state:       TaskIdle,
		enabled:     true,
		job:         job,
	}
}

// Run выполняет тело задачи один раз. Выключенная или уже бегущая
// задача — no-op: запуски не ставятся в очередь и не параллелятся.
// Ошибка тела фиксируется в состоянии и логе, но наружу не уходит —
// падение одной задачи не останавливает cron-цикл.
func (t *Task) Run(ctx context.Context) {
	t.mu.Lock()
	if !t.enabled || t.runningSince != nil {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	t.state = TaskRunning
	t.runningSince = &now
	t.lastRunStarted = &now
	t.mu.Unlock()

	err := t.safeRun(ctx)

	t.mu.Lock()
	t.lastRunDuration = time.Since(now)
	t.runningSince = nil
	if err != nil {
		t.state = TaskFailed
	} else {
		t.state = TaskIdle
	}
	t.mu.Unlock()

	if err != nil {
		logs.Job(t.ID).Errorf("task failed: %v", err)
	}
}

func (t *Task) safeRun(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return t.job(ctx)
}

// SetEnabled переключает допуск к запуску; уже бегущий запуск не трогает.
func (t *Task) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}

// Snapshot — копия состояния задачи для выдачи наружу.
type Snapshot struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Schedule        string     `json:"schedule"`
	State           string     `json:"state"`
	RunningSince    *time.Time `json:"running_since,omitempty"`
	LastRunStarted  *time.Time `json:"last_run_started,omitempty"`
	LastRunDuration string     `json:"last_run_duration,omitempty"`
	Enabled         bool       `json:"enabled"`
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Schedule:    t.Schedule,
		State:       t.state,
		Enabled:     t.enabled,
	}
	if t.runningSince != nil {
		v := *t.runningSince
		s.RunningSince = &v
	}
	if t.lastRunStarted != nil {
		v := *t.lastRunStarted
		s.LastRunStarted = &v
	}
	if t.lastRunDuration > 0 {
		s.LastRunDuration = t.lastRunDuration.String()
	}
	return s
}
