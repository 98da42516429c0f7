package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/user/parley/internal/chat"
)

// bridge writes stream events as Server-Sent Events until the stream ends or
// the client goes away. Frame ids start at 1.
func (s *Server) bridge(w http.ResponseWriter, r *http.Request, stream *chat.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		stream.Close()
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var seq int64
	write := func(ev chat.Event) error {
		seq++
		if err := writeFrame(w, seq, ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	events := stream.Events()
	for {
		select {
		case <-r.Context().Done():
			stream.Close()
			s.logger.Debug("client disconnected", "frames", seq)
			return
		case ev, ok := <-events:
			if !ok {
				if err := stream.Err(); err != nil {
					s.logger.Warn("turn stream failed", "error", err)
					write(chat.ErrorEvent{Message: s.texts.Internal})
				}
				return
			}
			if err := write(ev); err != nil {
				stream.Close()
				s.logger.Debug("write event failed", "error", err)
				return
			}
		}
	}
}

func writeFrame(w http.ResponseWriter, id int64, ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, ev.Type(), data)
	return err
}
