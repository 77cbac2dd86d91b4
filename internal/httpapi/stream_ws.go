package httpapi

import (
	"log"
	"net/http"

	"nhooyr.io/websocket"
)

// handleStreamWebsocket serves the broadcast feed over a websocket: one text
// message per serialized event, after an initial "connected" marker. Same
// no-replay contract as the SSE stream.
func (s *Server) handleStreamWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "event stream unavailable"})
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept failed: %v", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead discards inbound frames and hands back a context that ends
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	if err := conn.Write(ctx, websocket.MessageText, []byte("connected")); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, open := <-sub.C():
			if !open {
				_ = conn.Close(websocket.StatusNormalClosure, "subscriber dropped")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
	}
}
