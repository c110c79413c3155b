package transfer

import (
	"encoding/base64"
	"sort"
	"strings"

	"firestige.xyz/bmcam/internal/log"
	"firestige.xyz/bmcam/internal/metrics"
)

// Record is one received line set with where and when it arrived.
type Record struct {
	Timestamp string
	Latitude  string
	Longitude string
	NodeID    string
	Text      string
}

type State int

const (
	Idle State = iota
	Collecting
)

func (s State) String() string {
	if s == Collecting {
		return "COLLECTING"
	}
	return "IDLE"
}

type session struct {
	kind     string
	meta     Metadata
	segments map[int]string
	last     Record
}

// Reassembler rebuilds transfers from one node's record stream. It is not
// safe for concurrent use.
type Reassembler struct {
	sink  Sink
	state State
	cur   *session
	log   log.Logger
}

func NewReassembler(sink Sink, l log.Logger) *Reassembler {
	return &Reassembler{sink: sink, log: log.Or(l, "RX")}
}

func (r *Reassembler) State() State { return r.state }

// Feed processes every line of rec.Text in order.
func (r *Reassembler) Feed(rec Record) {
	for _, line := range strings.Split(rec.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.feedLine(rec, line)
	}
}

func (r *Reassembler) feedLine(rec Record, line string) {
	pl := classify(line)
	switch pl.kind {
	case lineStart:
		if r.state == Collecting && len(r.cur.segments) > 0 {
			r.log.Warnf("new start before %s finished, flushing %d segments", r.cur.kind, len(r.cur.segments))
			r.flush("restart")
		}
		meta, _ := ParseMetadata(line)
		r.cur = &session{kind: pl.tag, meta: meta, segments: make(map[int]string), last: rec}
		r.state = Collecting
		r.log.WithField("node", rec.NodeID).Infof("start %s filename=%q expected=%d", pl.tag, meta.Filename, meta.Count)

	case lineSegment:
		if r.state != Collecting {
			r.log.Debugf("segment %d outside a transfer, ignored", pl.index)
			return
		}
		r.cur.last = rec
		r.cur.segments[pl.index] = pl.content
		if r.complete() {
			r.flush("count")
		}

	case lineEnd:
		if r.state != Collecting {
			return
		}
		r.cur.last = rec
		r.flush("end")

	default:
		if r.state != Collecting {
			return
		}
		r.cur.last = rec
		if meta, ok := ParseMetadata(line); ok {
			r.cur.meta.merge(meta)
			if r.complete() {
				r.flush("count")
			}
		}
	}
}

func (r *Reassembler) complete() bool {
	m := r.cur.meta
	if !m.HasCount || m.Count <= 0 {
		return false
	}
	have := 0
	for idx := range r.cur.segments {
		if idx >= 0 && idx < m.Count {
			have++
		}
	}
	return have == m.Count
}

// Close flushes whatever is still being collected.
func (r *Reassembler) Close() {
	if r.state == Collecting {
		r.flush("eof")
	}
}

func (r *Reassembler) flush(reason string) {
	s := r.cur
	r.cur = nil
	r.state = Idle

	a := &Artifact{
		Kind:      s.kind,
		Filename:  s.meta.Filename,
		Timestamp: s.last.Timestamp,
		Latitude:  s.last.Latitude,
		Longitude: s.last.Longitude,
		NodeID:    s.last.NodeID,
		Received:  len(s.segments),
		Reason:    reason,
	}
	logger := r.log.WithFields(map[string]interface{}{"node": a.NodeID, "kind": a.Kind, "reason": reason})

	if s.meta.HasCount {
		a.Expected = s.meta.Count
		a.Missing = missing(s.segments, s.meta.Count)
		if len(a.Missing) > 0 {
			logger.Warnf("received %d of %d segments, missing %v", a.Received, a.Expected, a.Missing)
		}
	}

	a.Data = decodeSegments(s.segments, logger)
	if len(a.Data) == 0 {
		logger.Info("nothing to save")
		metrics.TransferSessionsTotal.WithLabelValues(a.Kind, "empty").Inc()
		return
	}

	if _, err := r.sink.Save(a); err != nil {
		logger.WithError(err).Error("save failed")
		metrics.TransferSessionsTotal.WithLabelValues(a.Kind, "failed").Inc()
		return
	}
	result := "complete"
	if len(a.Missing) > 0 || reason == "restart" || reason == "eof" {
		result = "partial"
	}
	metrics.TransferSessionsTotal.WithLabelValues(a.Kind, result).Inc()
}

func missing(segments map[int]string, count int) []int {
	var out []int
	for i := 0; i < count; i++ {
		if _, ok := segments[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// decodeSegments joins segments by index and decodes as much as it can.
func decodeSegments(segments map[int]string, logger log.Logger) []byte {
	idx := make([]int, 0, len(segments))
	for i := range segments {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var sb strings.Builder
	for _, i := range idx {
		sb.WriteString(segments[i])
	}
	text := cleanBase64(sb.String())
	if text == "" {
		return nil
	}
	if rem := len(text) % 4; rem != 0 {
		text += strings.Repeat("=", 4-rem)
	}

	dst := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(dst, []byte(text))
	if err != nil {
		logger.WithError(err).Warnf("base64 decode stopped early, keeping %d bytes", n)
	}
	return dst[:n]
}
