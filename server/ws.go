package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"mindnexus/pkg/chat"
	"mindnexus/pkg/llm"
	"mindnexus/pkg/store"
	"mindnexus/pkg/voice"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// wsMessage is the frame format in both directions.
type wsMessage struct {
	Type    string      `json:"type"`
	Content string      `json:"content,omitempty"`
	KB      string      `json:"kb,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// handleWebSocket runs one chat session per connection. The token comes as
// a query parameter because browsers cannot set headers on websocket
// upgrades.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, err := s.tokens.Parse(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, err := s.engine.NewSession(user, s.speaker, s.listener)
	if err != nil {
		log.Printf("failed to start websocket session: %v", err)
		return
	}
	defer session.Close()

	s.send(conn, wsMessage{Type: "history", Data: session.Messages()})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error: %v", err)
			}
			break
		}
		// Messages are handled in order; a turn's answer is always
		// appended before the next question is read.
		s.handleFrame(conn, r, session, msg)
	}
}

func (s *Server) handleFrame(conn *websocket.Conn, r *http.Request, session *chat.Session, msg wsMessage) {
	switch msg.Type {
	case "select":
		if err := session.SelectLibrary(r.Context(), msg.KB); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.send(conn, wsMessage{Type: "error", Content: "knowledge base not found"})
			} else {
				log.Printf("websocket select failed: %v", err)
				s.send(conn, wsMessage{Type: "error", Content: "failed to open knowledge base"})
			}
			return
		}
		s.send(conn, wsMessage{Type: "selected", KB: msg.KB})

	case "ask":
		answer, err := session.Ask(r.Context(), msg.Content)
		if err != nil {
			var upstream *llm.UpstreamError
			switch {
			case errors.Is(err, chat.ErrNoLibrary):
				s.send(conn, wsMessage{Type: "error", Content: "select a knowledge base first"})
			case errors.As(err, &upstream):
				log.Printf("websocket upstream failure: %v", err)
				s.send(conn, wsMessage{Type: "error", Content: "couldn't get an answer, please try again"})
			default:
				log.Printf("websocket ask failed: %v", err)
				s.send(conn, wsMessage{Type: "error", Content: "couldn't search the knowledge base"})
			}
			return
		}
		s.send(conn, wsMessage{Type: "answer", Data: answer})

	case "speak":
		if !session.CanSpeak() {
			s.send(conn, wsMessage{Type: "notice", Content: "voice output unavailable"})
			return
		}
		session.Speak(msg.Content)
		s.send(conn, wsMessage{Type: "speaking", Data: session.IsSpeaking()})

	case "stop":
		session.StopSpeaking()
		s.send(conn, wsMessage{Type: "speaking", Data: false})

	case "listen":
		text, err := session.Listen(r.Context(), s.listenTimeout)
		if err != nil {
			// Degrade to a notice; the conversation continues.
			switch {
			case errors.Is(err, voice.ErrNoInputDevice):
				s.send(conn, wsMessage{Type: "notice", Content: "microphone not found"})
			case errors.Is(err, voice.ErrRecognitionTimeout):
				s.send(conn, wsMessage{Type: "notice", Content: "didn't catch that, try again"})
			default:
				s.send(conn, wsMessage{Type: "notice", Content: "voice input unavailable"})
			}
			return
		}
		s.send(conn, wsMessage{Type: "transcript", Content: text})

	default:
		s.send(conn, wsMessage{Type: "error", Content: "unknown message type"})
	}
}

func (s *Server) send(conn *websocket.Conn, msg wsMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}
