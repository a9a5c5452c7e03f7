package monitoring

import (
	"context"
	"time"

	"meshreg/internal/logs"
)

// Purger — политика удаления: записи состояний узлов, так и не вышедших
// в сеть за грейс-период, и узлы, оффлайновые дольше порога хранения
// (вместе с их записями реестра).
type Purger struct {
	nodes            NodeDirectory
	states           StateTable
	neverOnlineGrace time.Duration
	offlineMaxAge    time.Duration
	batchSize        int
}

func NewPurger(nodes NodeDirectory, states StateTable, neverOnlineGrace, offlineMaxAge time.Duration, batchSize int) *Purger {
	return &Purger{
		nodes:            nodes,
		states:           states,
		neverOnlineGrace: neverOnlineGrace,
		offlineMaxAge:    offlineMaxAge,
		batchSize:        batchSize,
	}
}

func (p *Purger) Run(ctx context.Context) error {
	now := time.Now()

	n, err := p.states.PurgeNeverOnline(ctx, now.Add(-p.neverOnlineGrace))
	if err != nil {
		return err
	}
	if n > 0 {
		logs.Logger.Infof("purge: removed %d state records that never came online", n)
	}

	cutoff := now.Add(-p.offlineMaxAge)
	removed := 0
	for {
		recs, err := p.states.OfflineLongerThan(ctx, cutoff, p.batchSize)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			break
		}
		progress := 0
		for i := range recs {
			rec := &recs[i]
			if err := p.nodes.DeleteByMAC(ctx, rec.MAC); err != nil {
				logs.Logger.Errorf("purge: delete node %s: %v", rec.MAC, err)
				continue
			}
			if err := p.states.DeleteByMAC(ctx, rec.MAC); err != nil {
				logs.Logger.Errorf("purge: delete state %s: %v", rec.MAC, err)
				continue
			}
			progress++
		}
		removed += progress
		if progress == 0 {
			// партия не сдвинулась — не зацикливаемся на битых записях
			logs.Logger.Warnf("purge: no progress on a batch of %d, stopping this run", len(recs))
			break
		}
	}
	if removed > 0 {
		logs.Logger.Infof("purge: removed %d nodes offline since before %s", removed, cutoff.Format(time.RFC3339))
	}
	return nil
}
