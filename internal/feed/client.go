package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"meshreg/internal/logs"
	"meshreg/internal/models"
)

// Поддерживаемые версии формата nodes.json.
var validVersions = map[int]bool{1: true, 2: true}

// Client забирает и разбирает один фид топологии.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

type document struct {
	Version   int               `json:"version"`
	Timestamp Timestamp         `json:"timestamp"`
	Nodes     []json.RawMessage `json:"nodes"`
}

type rawEntry struct {
	ID       string     `json:"id"`
	MAC      string     `json:"mac"`
	Hostname string     `json:"hostname"`
	Site     string     `json:"site"`
	Domain   string     `json:"domain"`
	Online   *bool      `json:"online"`
	LastSeen *Timestamp `json:"lastseen"`
}

// Fetch: сетевая/HTTP-ошибка или непригодный документ — ошибка всего
// фида (вызывающий обрывает цикл). Кривая запись узла — лог, счётчик,
// дальше по списку.
func (c *Client) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s: unexpected status %d", url, resp.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("feed %s: decode: %w", url, err)
	}
	if !validVersions[doc.Version] {
		return nil, fmt.Errorf("feed %s: unsupported version %d", url, doc.Version)
	}
	if doc.Timestamp.Time().IsZero() {
		return nil, fmt.Errorf("feed %s: missing generation timestamp", url)
	}

	res := &Result{Timestamp: doc.Timestamp.Time(), Total: len(doc.Nodes)}
	for _, raw := range doc.Nodes {
		e, err := parseEntry(raw)
		if err != nil {
			res.Failed++
			logs.Logger.Warnf("feed %s: skipping node entry: %v", url, err)
			continue
		}
		res.Entries = append(res.Entries, *e)
	}
	return res, nil
}

// parseEntry требует непустой id, валидный MAC, флаг online и
// разбираемый lastseen; site/domain опциональны.
func parseEntry(raw json.RawMessage) (*Entry, error) {
	var r rawEntry
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, fmt.Errorf("missing node id")
	}
	mac, err := models.NormalizeMAC(r.MAC)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", r.ID, err)
	}
	if r.Online == nil {
		return nil, fmt.Errorf("node %s: missing online flag", r.ID)
	}
	if r.LastSeen == nil {
		return nil, fmt.Errorf("node %s: missing lastseen", r.ID)
	}
	return &Entry{
		ID:       r.ID,
		MAC:      mac,
		Hostname: r.Hostname,
		Site:     r.Site,
		Domain:   r.Domain,
		Online:   *r.Online,
		LastSeen: r.LastSeen.Time(),
	}, nil
}
