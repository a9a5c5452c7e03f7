package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp принимает RFC3339 либо unix-секунды — источники фида
// исторически отдают и то, и другое.
type Timestamp time.Time

func (u *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil && s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			// вариант без зоны (старые генераторы nodes.json)
			t, err = time.Parse("2006-01-02T15:04:05", s)
			if err != nil {
				return err
			}
		}
		*u = Timestamp(t.UTC())
		return nil
	}
	var ts int64
	if err := json.Unmarshal(b, &ts); err == nil && ts > 0 {
		*u = Timestamp(time.Unix(ts, 0).UTC())
		return nil
	}
	return fmt.Errorf("unparseable timestamp: %s", string(b))
}

func (u Timestamp) Time() time.Time { return time.Time(u) }

// Entry — разобранная и проверенная запись фида по одному узлу.
type Entry struct {
	ID       string
	MAC      string // канонический вид
	Hostname string
	Site     string
	Domain   string
	Online   bool
	LastSeen time.Time
}

// Result — итог разбора одного фида.
type Result struct {
	Timestamp time.Time // время генерации документа
	Entries   []Entry
	Total     int // сколько сырых записей было
	Failed    int // сколько не разобралось (пропущены, не фатально)
}
