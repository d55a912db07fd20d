package buffer

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mtconnect-agent/backend/internal/models"
)

// CurrentCache holds the latest accepted observation per buffer key, and the
// unresolved condition list per condition buffer key.
type CurrentCache struct {
	mu              sync.RWMutex
	observations    map[int]*models.ObservationRecord
	conditions      map[int][]*models.ObservationRecord
	conditionHashes map[int]uint64
}

// NewCurrentCache creates an empty cache.
func NewCurrentCache() *CurrentCache {
	return &CurrentCache{
		observations:    make(map[int]*models.ObservationRecord),
		conditions:      make(map[int][]*models.ObservationRecord),
		conditionHashes: make(map[int]uint64),
	}
}

// CommitFunc persists an accepted record and returns the record to keep as
// the current value. It runs under the cache lock.
type CommitFunc func(*models.ObservationRecord) *models.ObservationRecord

// UpdateObservation applies the filters declared on di and stores rec as the
// current value of its buffer key. It returns false when rec was filtered or
// is identical to the current value; neither case is an error. commit may
// be nil.
func (c *CurrentCache) UpdateObservation(di *models.DataItem, rec *models.ObservationRecord, commit CommitFunc) bool {
	rec.Hash = HashValues(rec.Values)

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.observations[rec.BufferKey]
	if ok && !di.IsDiscrete() {
		if !passesPeriod(di, existing, rec) || !passesDelta(di, existing, rec) {
			return false
		}
		if existing.Hash == rec.Hash {
			return false
		}
	}
	c.observations[rec.BufferKey] = apply(commit, rec)
	return true
}

// UpdateCondition merges rec into the condition list of its buffer key. It
// returns false when the resulting list is unchanged.
func (c *CurrentCache) UpdateCondition(rec *models.ObservationRecord, commit CommitFunc) bool {
	rec.Hash = HashValues(rec.Values)

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := MergeCondition(c.conditions[rec.BufferKey], rec)
	h := hashConditionList(merged)
	if prev, ok := c.conditionHashes[rec.BufferKey]; ok && prev == h {
		return false
	}
	stored := apply(commit, rec)
	for i := range merged {
		if merged[i] == rec {
			merged[i] = stored
		}
	}
	c.conditions[rec.BufferKey] = merged
	c.conditionHashes[rec.BufferKey] = h
	return true
}

func apply(commit CommitFunc, rec *models.ObservationRecord) *models.ObservationRecord {
	if commit == nil {
		return rec
	}
	if stored := commit(rec); stored != nil {
		return stored
	}
	return rec
}

// Observation returns the current value of a sample or event.
func (c *CurrentCache) Observation(key int) (*models.ObservationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.observations[key]
	return rec, ok
}

// Conditions returns the current condition list of a key, newest first.
func (c *CurrentCache) Conditions(key int) []*models.ObservationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.conditions[key]
	out := make([]*models.ObservationRecord, len(list))
	copy(out, list)
	return out
}

// Snapshot returns the current records of the requested keys sorted by
// buffer key. Condition keys contribute their whole list. A nil key set
// selects every key.
func (c *CurrentCache) Snapshot(keys []int) []*models.ObservationRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*models.ObservationRecord
	appendKey := func(k int) {
		if rec, ok := c.observations[k]; ok {
			out = append(out, rec)
		}
		out = append(out, c.conditions[k]...)
	}
	if keys == nil {
		for k := range c.observations {
			appendKey(k)
		}
		for k, list := range c.conditions {
			if _, ok := c.observations[k]; !ok {
				out = append(out, list...)
			}
		}
	} else {
		for _, k := range keys {
			appendKey(k)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BufferKey < out[j].BufferKey })
	return out
}

// Len returns the number of keys that have a current value.
func (c *CurrentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.observations) + len(c.conditions)
}

func passesPeriod(di *models.DataItem, existing, rec *models.ObservationRecord) bool {
	seconds, ok := di.FilterValue(models.FilterPeriod)
	if !ok || seconds <= 0 {
		return true
	}
	period := time.Duration(seconds * float64(time.Second))
	return rec.Timestamp.Sub(existing.Timestamp) > period
}

func passesDelta(di *models.DataItem, existing, rec *models.ObservationRecord) bool {
	delta, ok := di.FilterValue(models.FilterMinimumDelta)
	if !ok || delta <= 0 {
		return true
	}
	if di.EffectiveRepresentation() != models.RepresentationValue {
		return true
	}
	prev, err := strconv.ParseFloat(strings.TrimSpace(existing.Values.Result()), 64)
	if err != nil {
		return true
	}
	next, err := strconv.ParseFloat(strings.TrimSpace(rec.Values.Result()), 64)
	if err != nil {
		return true
	}
	return math.Abs(next-prev) > delta
}
