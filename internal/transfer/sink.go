package transfer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/bmcam/internal/config"
	"firestige.xyz/bmcam/internal/log"
)

// Artifact is one reassembled payload.
type Artifact struct {
	Kind      string
	Filename  string // as announced by the sender, may be empty
	Timestamp string // record timestamp used for naming and the log
	Latitude  string
	Longitude string
	NodeID    string
	Data      []byte

	Expected int // 0 when unknown
	Received int
	Missing  []int
	Reason   string // count, end, restart or eof
}

// Sink persists artifacts. It returns where the artifact went.
type Sink interface {
	Save(a *Artifact) (string, error)
}

var logHeader = []string{"Timestamp", "Latitude", "Longitude", "Node ID", "Filename", "File Size (bytes)"}

var allowedExt = map[string][]string{
	KindImage: {".jpg", ".jpeg", ".heic", ".heif", ".png", ".webp", ".avif"},
	KindVideo: {".mp4", ".h264", ".mjpeg", ".mkv"},
}

var defaultExt = map[string]string{
	KindImage: ".jpg",
	KindVideo: ".mp4",
}

// FileSink writes artifacts into a directory and appends one CSV row per
// artifact to an append-only log.
type FileSink struct {
	dir     string
	logPath string

	mu    sync.Mutex
	newID func() string
	now   func() time.Time
	log   log.Logger
}

func NewFileSink(cfg config.ReceiverConfig) *FileSink {
	logPath := cfg.LogFile
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(cfg.OutputDir, logPath)
	}
	return &FileSink{
		dir:     cfg.OutputDir,
		logPath: logPath,
		newID:   func() string { return uuid.NewString()[:8] },
		now:     time.Now,
		log:     log.Named("RX"),
	}
}

func (s *FileSink) Save(a *Artifact) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s%s", fileStamp(a.Timestamp, s.now()), kindWord(a.Kind), s.newID(), extFor(a.Kind, a.Filename))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	if s.logPath != "" {
		row := []string{a.Timestamp, a.Latitude, a.Longitude, a.NodeID, name, strconv.Itoa(len(a.Data))}
		if err := appendRow(s.logPath, row); err != nil {
			// the file itself is already safe on disk
			s.log.WithError(err).Errorf("transfer log %s", s.logPath)
		}
	}

	s.log.WithFields(map[string]interface{}{"node": a.NodeID, "bytes": len(a.Data), "reason": a.Reason}).Infof("saved %s", path)
	return path, nil
}

func appendRow(path string, row []string) error {
	_, err := os.Stat(path)
	fresh := errors.Is(err, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(logHeader); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// fileStamp turns 2025-06-01T12:00:00.000Z into 2025-06-01_12-00-00.
func fileStamp(ts string, now time.Time) string {
	if ts == "" {
		ts = now.UTC().Format(time.RFC3339)
	}
	ts = strings.NewReplacer(":", "-", "T", "_").Replace(ts)
	ts, _, _ = strings.Cut(ts, ".")
	ts = strings.TrimSuffix(ts, "Z")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_', r == '+':
			return r
		}
		return '_'
	}, ts)
}

func kindWord(kind string) string {
	switch kind {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case "":
		return "file"
	}
	return strings.ToLower(kind)
}

// extFor keeps the announced extension when it is allowed for kind.
func extFor(kind, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range allowedExt[kind] {
		if ext == allowed {
			return ext
		}
	}
	if def, ok := defaultExt[kind]; ok {
		return def
	}
	return ".bin"
}
