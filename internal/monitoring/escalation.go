package monitoring

import (
	"context"
	"time"

	"meshreg/internal/logs"
	"meshreg/internal/models"
)

// TierSchedule — пороги эскалации. Ярус 1 отсчитывается от lastseen,
// ярусы 2 и 3 — ещё и от времени предыдущего письма.
type TierSchedule struct {
	OfflineAfter time.Duration // ярус 1, по умолчанию 3h
	Tier2After   time.Duration // 24h
	Tier3After   time.Duration // 168h
}

func (s TierSchedule) threshold(tier int) time.Duration {
	switch tier {
	case 1:
		return s.OfflineAfter
	case 2:
		return s.Tier2After
	default:
		return s.Tier3After
	}
}

// SweepStats — итог прохода эскалации.
type SweepStats struct {
	Recovered int `json:"recovered"` // писем «снова в сети»
	Offline   int `json:"offline"`   // оффлайн-писем всех ярусов
	Skipped   int `json:"skipped"`   // мониторинг не ACTIVE / узел удалён
}

// Escalator решает, какое письмо эскалации ставить в очередь при
// переходах оффлайн/онлайн. Два независимых прохода — восстановление и
// три оффлайн-яруса по порядку; сбой одного вида письма изолирован и
// не останавливает остальные.
type Escalator struct {
	nodes     NodeDirectory
	states    StateTable
	mails     StatusMailer
	schedule  TierSchedule
	batchSize int
}

func NewEscalator(nodes NodeDirectory, states StateTable, mails StatusMailer, schedule TierSchedule, batchSize int) *Escalator {
	return &Escalator{nodes: nodes, states: states, mails: mails, schedule: schedule, batchSize: batchSize}
}

func (e *Escalator) Run(ctx context.Context) (*SweepStats, error) {
	st := &SweepStats{}
	if err := e.recoverySweep(ctx, st); err != nil {
		logs.Logger.Errorf("escalation: recovery sweep: %v", err)
	}
	for tier := 1; tier <= 3; tier++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if err := e.offlineSweep(ctx, tier, st); err != nil {
			logs.Logger.Errorf("escalation: offline tier %d: %v", tier, err)
		}
	}
	logs.Logger.Infof("escalation: recovered=%d offline=%d skipped=%d", st.Recovered, st.Offline, st.Skipped)
	return st, nil
}

// recoverySweep: записи снова ONLINE после оффлайн-письма → «снова в сети».
func (e *Escalator) recoverySweep(ctx context.Context, st *SweepStats) error {
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := e.states.OnlineNeedingRecovery(ctx, start, e.batchSize)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		progress := 0
		for i := range recs {
			mailed, advanced := e.process(ctx, &recs[i], models.MailMonitoringOnlineAgain, start, st)
			if mailed {
				st.Recovered++
			}
			if advanced {
				progress++
			}
		}
		if progress == 0 {
			// партия не сдвинулась за снапшот — не зацикливаемся на битых записях
			logs.Logger.Warnf("escalation: no progress on a batch of %d, stopping this sweep", len(recs))
			return nil
		}
	}
}

// offlineSweep яруса n: последний тип письма ровно n-1 (для первого —
// никакого), lastseen и предыдущее письмо старше порога яруса.
func (e *Escalator) offlineSweep(ctx context.Context, tier int, st *SweepStats) error {
	start := time.Now()
	cutoff := start.Add(-e.schedule.threshold(tier))

	var prev *models.MailType
	if tier > 1 {
		p := models.OfflineMailTypes[tier-2]
		prev = &p
	}
	mailType := models.OfflineMailTypes[tier-1]

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		recs, err := e.states.OfflineForTier(ctx, prev, cutoff, cutoff, start, e.batchSize)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		progress := 0
		for i := range recs {
			mailed, advanced := e.process(ctx, &recs[i], mailType, start, st)
			if mailed {
				st.Offline++
			}
			if advanced {
				progress++
			}
		}
		if progress == 0 {
			logs.Logger.Warnf("escalation: no progress on a batch of %d, stopping this sweep", len(recs))
			return nil
		}
	}
}

// process шлёт одно письмо по записи состояния. Узла может уже не быть
// в реестре, мониторинг может быть не подтверждён — такие записи
// пропускаются с освежением кэша hostname, без продвижения почтового
// состояния. Возвращает «письмо поставлено» и «запись ушла за снапшот»
// (по advanced проход судит о прогрессе партии).
func (e *Escalator) process(ctx context.Context, rec *models.NodeState, t models.MailType, now time.Time, st *SweepStats) (mailed, advanced bool) {
	n, err := e.nodes.FindByMAC(ctx, rec.MAC)
	if err != nil {
		logs.Logger.Errorf("escalation: lookup %s: %v", rec.MAC, err)
		return false, false
	}
	if n == nil {
		logs.Logger.Infof("escalation: %s has no registry node (deleted?), skipping", rec.MAC)
		st.Skipped++
		return false, e.touch(ctx, rec.ID, rec.Hostname)
	}

	tok, err := e.nodes.MonitoringTokenFor(ctx, n.ID)
	if err != nil {
		logs.Logger.Errorf("escalation: token lookup %s: %v", rec.MAC, err)
		return false, false
	}
	if n.MonitoringState != models.MonitoringActive || tok == nil {
		st.Skipped++
		return false, e.touch(ctx, rec.ID, n.Hostname)
	}

	if err := e.mails.SendStatus(ctx, t, n, rec, *tok); err != nil {
		logs.Logger.Errorf("escalation: enqueue %s for %s: %v", t, rec.MAC, err)
		return false, false
	}
	if err := e.states.MarkMailSent(ctx, rec.ID, t, now); err != nil {
		logs.Logger.Errorf("escalation: mark sent %s: %v", rec.MAC, err)
		return true, false
	}
	return true, true
}

func (e *Escalator) touch(ctx context.Context, id uint, hostname string) bool {
	if err := e.states.Touch(ctx, id, hostname); err != nil {
		logs.Logger.Errorf("escalation: touch state %d: %v", id, err)
		return false
	}
	return true
}
