package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/permission"
)

const streamHeartbeat = 15 * time.Second

// JournalStream delivers journal entries as they are written.
type JournalStream interface {
	Subscribe(ctx context.Context, f permission.Filter) <-chan journal.Entry
}

// handleJournalStream serves written journal entries as Server-Sent Events.
func (a *API) handleJournalStream(w http.ResponseWriter, r *http.Request) {
	f, err := permission.FromContext(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	// the server write timeout does not apply to a stream
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ch := a.stream.Subscribe(ctx, f)

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: journal\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case <-ctx.Done():
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
