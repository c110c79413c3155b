package transfer

import (
	"sort"
	"sync"

	"firestige.xyz/bmcam/internal/log"
)

// Demux keeps one Reassembler per originating node so interleaved
// transfers from different nodes do not corrupt each other.
type Demux struct {
	mu    sync.Mutex
	sink  Sink
	nodes map[string]*Reassembler
	log   log.Logger
}

func NewDemux(sink Sink, l log.Logger) *Demux {
	return &Demux{sink: sink, nodes: make(map[string]*Reassembler), log: log.Or(l, "RX")}
}

func (d *Demux) Feed(rec Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.nodes[rec.NodeID]
	if !ok {
		r = NewReassembler(d.sink, d.log.WithField("node", rec.NodeID))
		d.nodes[rec.NodeID] = r
	}
	r.Feed(rec)
}

// Close flushes every node's in-progress transfer as partial.
func (d *Demux) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d.nodes[id].Close()
	}
}
