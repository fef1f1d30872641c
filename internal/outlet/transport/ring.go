// Package transport bridges the in-process Outlet Registry across OS
// process boundaries: a length-prefixed JSON stream server run by each
// producing worker (Polar, HKH), and a discovery mechanism built on
// descriptor files under the session directory, so the Mirror Recorder —
// which runs as a separate process — can find and pull every outlet.
package transport

import "sync"

// Record is one sample as it travels over the exposure wire.
type Record struct {
	SourceID string    `json:"source_id"`
	Seq      uint64    `json:"seq"`
	HostTS   float64   `json:"host_ts"`
	Values   []float64 `json:"values,omitempty"`
	Text     string    `json:"text,omitempty"`
	IsText   bool      `json:"is_text,omitempty"`
}

// ring is a bounded, mutex-guarded buffer of pending records for one
// outlet. Unlike controlplane/internet-latency-collector/internal/exporter's
// PartitionBuffer, which blocks the writer when full, ring never blocks:
// a full buffer drops its oldest unread record and counts the drop,
// because a slow or absent puller must never stall the producing worker's
// hot path (spec.md §5's single-threaded ingress loop).
type ring struct {
	mu      sync.Mutex
	records []Record
	cap     int
	dropped uint64
	seq     uint64
}

func newRing(capacity int) *ring {
	return &ring{records: make([]Record, 0, capacity), cap: capacity}
}

func (r *ring) add(sourceID string, hostTS float64, values []float64, text string, isText bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := Record{SourceID: sourceID, Seq: r.seq, HostTS: hostTS, Values: values, Text: text, IsText: isText}

	if len(r.records) >= r.cap {
		copy(r.records, r.records[1:])
		r.records = r.records[:len(r.records)-1]
		r.dropped++
	}
	r.records = append(r.records, rec)
}

// drain returns and clears all pending records.
func (r *ring) drain() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	out := make([]Record, len(r.records))
	copy(out, r.records)
	r.records = r.records[:0]
	return out
}

func (r *ring) droppedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
