package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshreg/internal/feed"
	"meshreg/internal/logs"
	"meshreg/internal/repo"
)

// IngestStats — итог одного цикла для наблюдаемости.
type IngestStats struct {
	Feeds   int   `json:"feeds"`
	Total   int   `json:"total"`   // сырых записей во всех фидах
	Failed  int   `json:"failed"`  // не разобралось
	Updated int   `json:"updated"` // применённых апсертов
	Ignored int   `json:"ignored"` // незарегистрированные MAC
	Offline int64 `json:"offline"` // устаревших переведено в OFFLINE
	Skipped bool  `json:"skipped"` // новых данных не было
}

// Reconciler сводит фиды в таблицу состояний. Время предыдущего импорта
// живёт в самом реконсилере — никакого глобального состояния модуля.
type Reconciler struct {
	fetcher FeedFetcher
	nodes   NodeDirectory
	states  StateTable
	urls    []string

	mu         sync.Mutex
	lastImport time.Time
}

func NewReconciler(fetcher FeedFetcher, nodes NodeDirectory, states StateTable, urls []string) *Reconciler {
	return &Reconciler{fetcher: fetcher, nodes: nodes, states: states, urls: urls}
}

// Run — один цикл инжеста.
//  1. Все фиды целиком, fail-fast: ошибка любого фида — обрыв без
//     частичного коммита картины сети.
//  2. Если max(timestamp) не новее прошлого цикла — пропуск.
//  3. Слияние по MAC: при пересечении фидов выживает запись с самым
//     свежим lastseen.
//  4. Апсерт только зарегистрированных MAC (монотонность — в сторе).
//  5. Не освежённые записи — в OFFLINE.
func (r *Reconciler) Run(ctx context.Context) (*IngestStats, error) {
	if len(r.urls) == 0 {
		logs.Logger.Warn("feed ingest: no feed urls configured")
		return &IngestStats{Skipped: true}, nil
	}

	results := make([]*feed.Result, 0, len(r.urls))
	for _, u := range r.urls {
		res, err := r.fetcher.Fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("feed ingest aborted: %w", err)
		}
		results = append(results, res)
	}

	st := &IngestStats{Feeds: len(results)}
	minTS, maxTS := results[0].Timestamp, results[0].Timestamp
	for _, res := range results {
		st.Total += res.Total
		st.Failed += res.Failed
		if res.Timestamp.Before(minTS) {
			minTS = res.Timestamp
		}
		if res.Timestamp.After(maxTS) {
			maxTS = res.Timestamp
		}
	}

	r.mu.Lock()
	last := r.lastImport
	r.mu.Unlock()
	if !maxTS.After(last) {
		st.Skipped = true
		logs.Logger.Debugf("feed ingest: no new data (feed %s, last %s)", maxTS, last)
		return st, nil
	}

	type candidate struct {
		entry    feed.Entry
		imported time.Time
	}
	merged := make(map[string]candidate)
	for _, res := range results {
		for _, e := range res.Entries {
			cur, ok := merged[e.MAC]
			if !ok || e.LastSeen.After(cur.entry.LastSeen) {
				merged[e.MAC] = candidate{entry: e, imported: res.Timestamp}
			}
		}
	}

	for mac, c := range merged {
		n, err := r.nodes.FindByMAC(ctx, mac)
		if err != nil {
			return st, err
		}
		if n == nil {
			st.Ignored++ // чужой узел, не наш — не ведём
			continue
		}
		hostname := c.entry.Hostname
		if hostname == "" {
			hostname = n.Hostname
		}
		_, applied, err := r.states.Upsert(ctx, repo.StateUpdate{
			MAC:             mac,
			Hostname:        hostname,
			Site:            c.entry.Site,
			Domain:          c.entry.Domain,
			Online:          c.entry.Online,
			LastSeen:        c.entry.LastSeen,
			ImportTimestamp: c.imported,
		})
		if err != nil {
			return st, err
		}
		if applied {
			st.Updated++
		}
	}

	off, err := r.states.MarkStaleOffline(ctx, minTS)
	if err != nil {
		return st, err
	}
	st.Offline = off

	r.mu.Lock()
	r.lastImport = maxTS
	r.mu.Unlock()

	logs.Logger.Infof("feed ingest: feeds=%d total=%d failed=%d updated=%d ignored=%d offline=%d",
		st.Feeds, st.Total, st.Failed, st.Updated, st.Ignored, st.Offline)
	return st, nil
}
