// Package buffer holds the in-memory state of the agent: the current value
// cache, the observation history ring and the asset buffer.
package buffer

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"

	"github.com/mtconnect-agent/backend/internal/models"
)

// HashValues returns the identity hash of an ordered value set. The
// timestamp is not part of the identity.
func HashValues(values models.ObservationValues) uint64 {
	size := 0
	for _, v := range values {
		size += len(v.Key) + len(v.Value) + 2
	}
	buf := make([]byte, 0, size)
	for _, v := range values {
		buf = append(buf, v.Key...)
		buf = append(buf, 0)
		buf = append(buf, v.Value...)
		buf = append(buf, 0)
	}
	return xxh3.Hash(buf)
}

// hashConditionList combines the hashes of a condition list in order.
func hashConditionList(list []*models.ObservationRecord) uint64 {
	buf := make([]byte, 8*len(list))
	for i, rec := range list {
		binary.LittleEndian.PutUint64(buf[i*8:], rec.Hash)
	}
	return xxh3.Hash(buf)
}
