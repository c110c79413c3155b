package transfer

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"firestige.xyz/bmcam/internal/log"
)

const DefaultChunkSize = 300

// BuildChunks reads path and returns its base name, its base64 text cut into
// chunkSize pieces, and its raw length in bytes.
func BuildChunks(path string, chunkSize int) (label string, chunks []string, rawLen int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, 0, fmt.Errorf("read %s: %w", path, err)
	}
	chunks = SplitBase64(data, chunkSize)

	logger := log.Named("TX")
	if logger.IsDebugEnabled() {
		logger.Debugf("file=%s bytes=%d chunk_size=%d chunks=%d", filepath.Base(path), len(data), chunkSize, len(chunks))
	}
	return filepath.Base(path), chunks, len(data), nil
}

// SplitBase64 encodes data and slices the text into size-character pieces;
// the last piece may be shorter. Empty input yields no chunks.
func SplitBase64(data []byte, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	text := base64.StdEncoding.EncodeToString(data)
	chunks := make([]string, 0, (len(text)+size-1)/size)
	for i := 0; i < len(text); i += size {
		chunks = append(chunks, text[i:min(i+size, len(text))])
	}
	return chunks
}
