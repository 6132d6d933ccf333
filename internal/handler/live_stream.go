package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/signals/internal/live"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

const (
	MessageTypeUpdate = "update"
	MessageTypeView   = "view"
	MessageTypeError  = "error"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:   4096,
	WriteBufferSize:  16384,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// HandleLiveStream attaches a viewer to a live recording over a websocket.
// The subscription is created before the upgrade so that an unknown
// recording or a bad delay is answered with a plain HTTP error.
func (h *HTTPHandler) HandleLiveStream(w http.ResponseWriter, r *http.Request) {
	recordingID := chi.URLParam(r, "recordingID")
	delay, err := int64Param(r, "delay", h.defaultDelayMs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view := live.View{DelayMs: delay, SourceUser: r.URL.Query().Get("user")}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.live.Subscribe(ctx, recordingID, view)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("recording_id", recordingID).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	notices := make(chan Message, 4)
	go readViewerMessages(conn, sub, notices, cancel)
	writeViewerUpdates(ctx, conn, sub, notices)
}

// readViewerMessages applies view changes sent by the viewer. It cancels the
// stream when the connection goes away.
func readViewerMessages(conn *websocket.Conn, sub *live.Subscription, notices chan<- Message, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Viewer connection closed")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			notify(notices, errorMessage("invalid message"))
			continue
		}
		if msg.Type != MessageTypeView {
			continue
		}

		var v live.View
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			notify(notices, errorMessage("invalid view"))
			continue
		}
		if err := sub.SetView(v); err != nil {
			notify(notices, errorMessage(err.Error()))
		}
	}
}

func writeViewerUpdates(ctx context.Context, conn *websocket.Conn, sub *live.Subscription, notices <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	updates := sub.Updates()
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "recording ended"))
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				log.Error().Err(err).Msg("Failed to encode viewer update")
				return
			}
			if err := writeMessage(conn, Message{Type: MessageTypeUpdate, Data: data}); err != nil {
				return
			}

		case msg := <-notices:
			if err := writeMessage(conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func errorMessage(text string) Message {
	data, _ := json.Marshal(map[string]string{"error": text})
	return Message{Type: MessageTypeError, Data: data}
}

func notify(notices chan<- Message, msg Message) {
	select {
	case notices <- msg:
	default:
	}
}
