package buffer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mtconnect-agent/backend/internal/models"
)

// DefaultCount is the number of observations returned when a query does
// not specify a count.
const DefaultCount = 100

// Window describes the sequence range retained by the history buffer.
type Window struct {
	FirstSequence int64
	LastSequence  int64
	NextSequence  int64
}

// QueryResult is the outcome of a history query.
type QueryResult struct {
	Window
	Observations []*models.ObservationRecord

	// Resume is the sequence a follow-up query should start from.
	Resume     int64
	OutOfRange bool
}

// ObservationBuffer is a fixed capacity ring of observation records. Each
// insert assigns the next global sequence number; when the ring is full the
// oldest record is overwritten.
type ObservationBuffer struct {
	mu       sync.RWMutex
	slots    []*models.ObservationRecord
	count    int
	sequence atomic.Int64 // last assigned sequence
}

// NewObservationBuffer creates a ring with room for size observations.
func NewObservationBuffer(size int) *ObservationBuffer {
	if size < 0 {
		size = 0
	}
	return &ObservationBuffer{slots: make([]*models.ObservationRecord, size)}
}

// Size returns the capacity of the ring.
func (b *ObservationBuffer) Size() int {
	return len(b.slots)
}

// AddObservation stores a copy of rec under the next sequence number and
// returns the stored record. It returns nil when the buffer has no capacity.
func (b *ObservationBuffer) AddObservation(rec *models.ObservationRecord) *models.ObservationRecord {
	if len(b.slots) == 0 {
		return nil
	}
	stored := *rec

	b.mu.Lock()
	defer b.mu.Unlock()

	// assigned under the write lock so slot order equals sequence order
	stored.Sequence = b.sequence.Add(1)
	b.slots[b.slot(stored.Sequence)] = &stored
	if b.count < len(b.slots) {
		b.count++
	}
	return &stored
}

// Window returns the currently retained sequence range.
func (b *ObservationBuffer) Window() Window {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.windowLocked()
}

// LastSequence returns the last assigned sequence without taking the lock.
func (b *ObservationBuffer) LastSequence() int64 {
	return b.sequence.Load()
}

func (b *ObservationBuffer) windowLocked() Window {
	last := b.sequence.Load()
	return Window{
		FirstSequence: last - int64(b.count) + 1,
		LastSequence:  last,
		NextSequence:  last + 1,
	}
}

func (b *ObservationBuffer) slot(seq int64) int {
	return int((seq - 1) % int64(len(b.slots)))
}

func (b *ObservationBuffer) at(seq int64) *models.ObservationRecord {
	return b.slots[b.slot(seq)]
}

func keySet(keys []int) map[int]struct{} {
	if keys == nil {
		return nil
	}
	set := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func matches(set map[int]struct{}, rec *models.ObservationRecord) bool {
	if set == nil {
		return true
	}
	_, ok := set[rec.BufferKey]
	return ok
}

// GetObservations returns the records of the requested keys in a sequence
// range, ascending by sequence. from and to are inclusive; values <= 0 mean
// "not given". A zero count selects DefaultCount; a negative count selects
// the last |count| records ending at to (or at the last sequence). A nil
// key set selects every key.
//
// A from before the first retained sequence, or past the next sequence,
// yields an empty result with OutOfRange set. So does a to before the first
// retained sequence; a to past the last sequence is clamped to it.
func (b *ObservationBuffer) GetObservations(keys []int, from, to int64, count int) QueryResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w := b.windowLocked()
	res := QueryResult{Window: w, Resume: w.NextSequence}
	set := keySet(keys)

	if count == 0 {
		count = DefaultCount
	}

	if from > 0 && (from < w.FirstSequence || from > w.NextSequence) {
		res.OutOfRange = true
		return res
	}
	if to > 0 && to < w.FirstSequence {
		res.OutOfRange = true
		return res
	}
	if b.count == 0 {
		return res
	}

	if count < 0 || (to > 0 && from <= 0) {
		limit := count
		if limit < 0 {
			limit = -limit
		}
		end := w.LastSequence
		if to > 0 && to < end {
			end = to
		}
		lower := w.FirstSequence
		if from > lower {
			lower = from
		}
		for seq := end; seq >= lower && len(res.Observations) < limit; seq-- {
			if rec := b.at(seq); matches(set, rec) {
				res.Observations = append(res.Observations, rec)
			}
		}
		reverse(res.Observations)
		res.Resume = end + 1
		return res
	}

	start := w.FirstSequence
	if from > 0 {
		start = from
	}
	end := w.LastSequence
	if to > 0 && to < end {
		end = to
	}
	seq := start
	for ; seq <= end && len(res.Observations) < count; seq++ {
		if rec := b.at(seq); matches(set, rec) {
			res.Observations = append(res.Observations, rec)
		}
	}
	res.Resume = seq
	return res
}

// GetCurrentObservations rebuilds the state of the requested keys as of
// sequence at. Samples and events yield their latest record; conditions
// yield their unresolved list. at <= 0 means the last sequence. An at
// outside the retained window yields OutOfRange. Records are sorted by
// buffer key.
func (b *ObservationBuffer) GetCurrentObservations(keys []int, at int64) QueryResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	w := b.windowLocked()
	res := QueryResult{Window: w, Resume: w.NextSequence}

	end := w.LastSequence
	if at > 0 {
		if at < w.FirstSequence || at > w.LastSequence {
			res.OutOfRange = true
			return res
		}
		end = at
	}
	res.Resume = end + 1

	set := keySet(keys)
	latest := make(map[int]*models.ObservationRecord)
	conditions := make(map[int][]*models.ObservationRecord)
	for seq := w.FirstSequence; seq <= end && b.count > 0; seq++ {
		rec := b.at(seq)
		if !matches(set, rec) {
			continue
		}
		if rec.Category == models.CategoryCondition {
			conditions[rec.BufferKey] = MergeCondition(conditions[rec.BufferKey], rec)
			continue
		}
		latest[rec.BufferKey] = rec
	}

	for _, rec := range latest {
		res.Observations = append(res.Observations, rec)
	}
	for _, list := range conditions {
		res.Observations = append(res.Observations, list...)
	}
	sort.SliceStable(res.Observations, func(i, j int) bool {
		a, c := res.Observations[i], res.Observations[j]
		if a.BufferKey != c.BufferKey {
			return a.BufferKey < c.BufferKey
		}
		return a.Sequence > c.Sequence
	})
	return res
}

func reverse(recs []*models.ObservationRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
