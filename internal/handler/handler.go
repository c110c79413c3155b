// Package handler implements the topic handlers the agent registers with
// the dispatch router: camera triggers, clock references, hello probes and
// inbound chunked transfers.
package handler

import (
	"context"
	"fmt"
	"time"
)

// FileSender streams a file over the link. *transfer.Sender satisfies it.
type FileSender interface {
	SendFile(ctx context.Context, path, kind string) error
}

// Printer writes a line on the peer's console. *link.Node satisfies it.
type Printer interface {
	Print(text string) error
}

func nodeLabel(id uint64) string {
	return fmt.Sprintf("%#x", id)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
