package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const liveKeepAlive = 25 * time.Second

// handleLive streams live book changes as server-sent events. The first
// event is a full snapshot; after that each committed change is sent as it
// happens.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		a.logger.Debug("live stream write deadline not cleared", zap.Error(err))
	}

	events, cancel := a.service.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", a.service.LiveSnapshot()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		a.logger.Warn("live stream cannot flush", zap.Error(err))
		return
	}

	ticker := time.NewTicker(liveKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, string(evt.Kind), evt); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
