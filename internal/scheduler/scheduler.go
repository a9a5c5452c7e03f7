package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"meshreg/internal/logs"
)

// ErrTaskNotFound — неизвестный id задачи.
var ErrTaskNotFound = errors.New("task not found")

// Scheduler гоняет задачи по cron-расписанию. Разные задачи бегут
// параллельно друг другу; каждая отдельная — максимум в один поток
// (см. Task.Run).
type Scheduler struct {
	cron  *cron.Cron
	tasks map[string]*Task
	order []string
}

func New() *Scheduler {
	return &Scheduler{
		cron:  cron.New(cron.WithSeconds()),
		tasks: make(map[string]*Task),
	}
}

// Register добавляет задачу в таблицу и в cron. Дубликат id — ошибка.
func (s *Scheduler) Register(t *Task) error {
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("duplicate task id %q", t.ID)
	}
	if _, err := s.cron.AddFunc(t.Schedule, func() {
		t.Run(context.Background())
	}); err != nil {
		return fmt.Errorf("task %s: bad schedule %q: %w", t.ID, t.Schedule, err)
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	return nil
}

func (s *Scheduler) Start() {
	for _, id := range s.order {
		logs.Logger.Infof("task registered: %s (%s)", id, s.tasks[id].Schedule)
	}
	s.cron.Start()
}

// Stop останавливает cron и ждёт завершения бегущих задач либо контекста.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		logs.Logger.Warn("scheduler: shutdown timeout, tasks still running")
	}
}

// -------- Операторские действия --------

func (s *Scheduler) List() []Snapshot {
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Snapshot())
	}
	return out
}

func (s *Scheduler) Get(id string) (Snapshot, error) {
	t, ok := s.tasks[id]
	if !ok {
		return Snapshot{}, ErrTaskNotFound
	}
	return t.Snapshot(), nil
}

// RunNow запускает задачу вне расписания (асинхронно). Защита от
// наложения та же, что у cron-запуска.
func (s *Scheduler) RunNow(id string) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	go t.Run(context.Background())
	return nil
}

func (s *Scheduler) SetEnabled(id string, on bool) error {
	t, ok := s.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.SetEnabled(on)
	return nil
}
