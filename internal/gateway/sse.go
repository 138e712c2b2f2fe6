// ABOUTME: Server-Sent Event streams of agent inbox messages and field snapshots
// ABOUTME: Subscribes to the stream hub and writes keepalive comments while idle

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/fieldnet-gateway/internal/network"
	"github.com/2389/fieldnet-gateway/internal/stream"
)

// sseKeepalive is the idle interval between comment lines.
const sseKeepalive = 15 * time.Second

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}

// handleAgentStream pushes messages delivered to {id}.
func (g *Gateway) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := g.network.Agent(r.Context(), id); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.serveStream(w, r, stream.AgentTopic(id))
}

// handleFieldStream pushes every recorded field snapshot.
func (g *Gateway) handleFieldStream(w http.ResponseWriter, r *http.Request) {
	g.serveStream(w, r, stream.FieldTopic)
}

func (g *Gateway) serveStream(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, _ := g.network.Hub.Subscribe(ctx, topic)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	g.writeSSEEvent(w, "started", map[string]string{"topic": topic})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case stream.KindMessage:
				g.writeSSEEvent(w, ev.Kind, network.ViewMessage(ev.Message))
			case stream.KindField:
				g.writeSSEEvent(w, ev.Kind, network.ViewSnapshot(ev.Field))
			}
			flusher.Flush()
		}
	}
}
