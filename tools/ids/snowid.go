// Package ids hands out sortable 63-bit IDs for messages and other
// durable records: milliseconds since the service epoch, a node
// component so gateways never collide, and a per-millisecond sequence.
package ids

import (
	"strconv"
	"sync"
	"time"
)

// Layout, high to low: 41 bits timestamp, 8 bits node, 14 bits
// sequence. 8 node bits cap a deployment at 256 gateways; 14 sequence
// bits allow 16384 IDs per node per millisecond.
const (
	nodeBits = 8
	seqBits  = 14

	MaxNodeID = 1<<nodeBits - 1
	seqMask   = 1<<seqBits - 1
	tsShift   = nodeBits + seqBits
	tsMask    = 1<<41 - 1
)

var epochMS = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

var (
	mu     sync.Mutex
	nodeID int64 = 1
	seq    int64
	lastMS int64
)

// SetNodeID fixes this process's node component (0..MaxNodeID).
// Call once at startup, before the first Generate.
func SetNodeID(id int64) {
	mu.Lock()
	defer mu.Unlock()
	if id < 0 || id > MaxNodeID {
		id = 1
	}
	nodeID = id
}

// Generate returns the next ID. Safe for concurrent use.
func Generate() int64 {
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UnixMilli()
	for now < lastMS {
		// clock went backwards, wait it out
		time.Sleep(time.Duration(lastMS-now) * time.Millisecond)
		now = time.Now().UnixMilli()
	}
	if now == lastMS {
		seq = (seq + 1) & seqMask
		if seq == 0 {
			// sequence exhausted within this millisecond
			for now <= lastMS {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		seq = 0
	}
	lastMS = now

	ts := (now - epochMS) & tsMask
	return ts<<tsShift | nodeID<<seqBits | seq
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}
