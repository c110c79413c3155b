package handler

import (
	"fmt"
	"strings"

	"firestige.xyz/bmcam/internal/log"
)

// Status kinds.
const (
	OK   = "OK"
	Busy = "BUSY"
	Err  = "ERR"
	Ack  = "ACK"
)

// TextPublisher is the publish side of *link.Node.
type TextPublisher interface {
	PublishText(topic, text string) error
}

// FileLogger is the SD-card side of *link.Node.
type FileLogger interface {
	FileLog(filename, text string) error
}

// Status publishes one-line reports such as "OK op=video file=a.mp4 dur=5s"
// on the status topic. Publish failures are logged, never returned.
type Status struct {
	pub   TextPublisher
	topic string
	log   log.Logger

	mirror     FileLogger
	mirrorFile string
}

func NewStatus(pub TextPublisher, topic string) *Status {
	return &Status{pub: pub, topic: topic, log: log.Named("STATUS")}
}

// MirrorTo also appends every report to filename through fl.
func (s *Status) MirrorTo(fl FileLogger, filename string) *Status {
	s.mirror = fl
	s.mirrorFile = filename
	return s
}

// Report sends kind, op and the key/value pairs in kv, in order.
func (s *Status) Report(kind, op string, kv ...interface{}) {
	line := FormatStatus(kind, op, kv...)
	if s != nil && s.mirror != nil && s.mirrorFile != "" {
		if err := s.mirror.FileLog(s.mirrorFile, line); err != nil {
			s.log.WithError(err).Warnf("status not logged to %s", s.mirrorFile)
		}
	}
	if s == nil || s.pub == nil || s.topic == "" {
		log.Named("STATUS").Info(line)
		return
	}
	if err := s.pub.PublishText(s.topic, line); err != nil {
		s.log.WithError(err).Warnf("status not delivered: %s", line)
		return
	}
	s.log.Debugf("%s :: %s", s.topic, line)
}

func FormatStatus(kind, op string, kv ...interface{}) string {
	var sb strings.Builder
	sb.WriteString(kind)
	if op != "" {
		sb.WriteString(" op=")
		sb.WriteString(op)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i+1])
	}
	return sb.String()
}
