package transfer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	"firestige.xyz/bmcam/internal/log"
)

// ExportFilter selects records from a sensor-data export. Zero values match
// everything.
type ExportFilter struct {
	Start time.Time
	End   time.Time
	Nodes []string
}

type exportEntry struct {
	Timestamp string      `json:"timestamp"`
	Latitude  json.Number `json:"latitude"`
	Longitude json.Number `json:"longitude"`
	NodeID    string      `json:"bristlemouth_node_id"`
	Value     string      `json:"value"`
}

type exportDoc struct {
	Data []exportEntry `json:"data"`
}

type timedRecord struct {
	at  time.Time
	rec Record
}

// ReadExport decodes a sensor-data JSON export whose data[].value fields hold
// hex-encoded transmit payloads, and returns the matching records ordered by
// timestamp. Entries with an unreadable value or timestamp are skipped.
func ReadExport(r io.Reader, filter ExportFilter) ([]Record, error) {
	var doc exportDoc
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}

	logger := log.Named("RX")
	out := make([]timedRecord, 0, len(doc.Data))
	for i, e := range doc.Data {
		if len(filter.Nodes) > 0 && !slices.Contains(filter.Nodes, e.NodeID) {
			continue
		}
		at, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			logger.Warnf("entry %d: bad timestamp %q", i, e.Timestamp)
			continue
		}
		if !filter.Start.IsZero() && at.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && at.After(filter.End) {
			continue
		}
		raw, err := hex.DecodeString(strings.TrimSpace(e.Value))
		if err != nil {
			logger.Warnf("entry %d: bad hex value: %v", i, err)
			continue
		}
		out = append(out, timedRecord{at: at, rec: Record{
			Timestamp: e.Timestamp,
			Latitude:  e.Latitude.String(),
			Longitude: e.Longitude.String(),
			NodeID:    e.NodeID,
			Text:      strings.ToValidUTF8(string(raw), "\uFFFD"),
		}})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	recs := make([]Record, len(out))
	for i, tr := range out {
		recs[i] = tr.rec
	}
	return recs, nil
}
