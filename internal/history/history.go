// Package history persists install records and per-map usage counters.
package history

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mapforge/mapforge/internal/storage"
)

// Key prefixes in the state store.
const (
	prefixInstall = "in:"  // in:<reverseTimestamp> -> InstallRecord
	prefixUse     = "use:" // use:<mapID> -> count
	prefixCounter = "cnt:" // cnt:global -> Counter
)

// InstallRecord describes one completed (or failed) map install.
type InstallRecord struct {
	ID         string        `json:"id"`
	Time       time.Time     `json:"time"`
	MapID      string        `json:"map_id"`
	MapName    string        `json:"map_name"`
	ReleaseTag string        `json:"release_tag"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// Counter holds aggregate install statistics.
type Counter struct {
	TotalInstalls int64     `json:"total_installs"`
	TotalBytes    int64     `json:"total_bytes"`
	LastInstall   time.Time `json:"last_install"`
	Failures      int64     `json:"failures"`
}

// Store persists install history and usage counts.
type Store struct {
	kv *storage.Store
	mu sync.Mutex // protects counter read-modify-write
}

// NewStore creates a history store backed by the given state store.
func NewStore(kv *storage.Store) *Store {
	return &Store{kv: kv}
}

// reverseTimestamp returns a string that sorts newest-first in
// lexicographic order.
func reverseTimestamp(t time.Time) string {
	return fmt.Sprintf("%019d", math.MaxInt64-t.UnixNano())
}

// RecordInstall persists a new install record and updates the
// aggregate counters.
func (s *Store) RecordInstall(rec InstallRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.kv.Put(prefixInstall+reverseTimestamp(rec.Time), data)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.loadCounter()
	c.TotalInstalls++
	c.TotalBytes += rec.Bytes
	c.LastInstall = rec.Time
	if !rec.Success {
		c.Failures++
	}
	s.saveCounter(c)
}

// ListRecent returns up to limit install records, newest first.
func (s *Store) ListRecent(limit int) ([]InstallRecord, error) {
	values, err := s.kv.ScanPrefixOrdered(prefixInstall, limit)
	if err != nil {
		return nil, err
	}

	var records []InstallRecord
	for _, v := range values {
		var rec InstallRecord
		if json.Unmarshal(v, &rec) != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Stats returns aggregate install statistics.
func (s *Store) Stats() Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCounter()
}

// RecordUse increments the usage count for a map.
func (s *Store) RecordUse(mapID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.useCount(mapID)
	s.kv.Put(prefixUse+mapID, []byte(strconv.FormatInt(n+1, 10)))
}

// UseCount returns how many times a map has been loaded.
func (s *Store) UseCount(mapID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.useCount(mapID)
}

func (s *Store) useCount(mapID string) int64 {
	data, err := s.kv.Get(prefixUse + mapID)
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseInt(string(data), 10, 64)
	return n
}

func (s *Store) loadCounter() Counter {
	var c Counter
	data, err := s.kv.Get(prefixCounter + "global")
	if err == nil {
		json.Unmarshal(data, &c)
	}
	return c
}

func (s *Store) saveCounter(c Counter) {
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	s.kv.Put(prefixCounter+"global", data)
}
