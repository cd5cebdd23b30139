package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/planweave/planweave/internal/bridge"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// handleStreamWS opens one bridge connection per accepted websocket. The
// handle is torn down when the socket closes, leaving other connections
// untouched.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if s.Bridge == nil {
		writeError(w, http.StatusInternalServerError, errNotFound("bridge"))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	handle := s.Bridge.Setup(postTo(conn))
	defer handle.Cleanup()

	s.Logger.Debug().Str("connection_id", handle.ID()).Msg("bridge connection opened")

	// The protocol is one-way; reads only detect the peer going away.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	s.Logger.Debug().Str("connection_id", handle.ID()).Msg("bridge connection closed")
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func postTo(writer wsWriter) bridge.PostFunc {
	return func(ctx context.Context, msg bridge.Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return writer.Write(ctx, websocket.MessageText, data)
	}
}
