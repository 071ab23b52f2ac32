package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/altfoxie/bing-client/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const streamReadTimeout = 30 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

type result struct {
	Value   string `json:"value"`
	Message string `json:"message,omitempty"`
}

type createResponse struct {
	ConversationID        string `json:"conversationId,omitempty"`
	ClientID              string `json:"clientId,omitempty"`
	ConversationSignature string `json:"conversationSignature,omitempty"`
	Result                result `json:"result"`
}

type botMessage struct {
	Text      string `json:"text"`
	Author    string `json:"author"`
	MessageID string `json:"messageId"`
}

type updateFrame struct {
	Type      protocol.MessageType `json:"type"`
	Target    string               `json:"target"`
	Arguments []updateArgument     `json:"arguments"`
}

type updateArgument struct {
	Messages  []botMessage `json:"messages"`
	RequestID string       `json:"requestId"`
}

type completeFrame struct {
	Type         protocol.MessageType `json:"type"`
	InvocationID string               `json:"invocationId"`
	Item         completeItem         `json:"item"`
}

type completeItem struct {
	Messages       []botMessage `json:"messages"`
	ConversationID string       `json:"conversationId"`
	Result         result       `json:"result"`
}

type closeFrame struct {
	Type         protocol.MessageType `json:"type"`
	InvocationID string               `json:"invocationId,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// handleCreate issues a conversation for a request carrying the _U cookie.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("_U")
	if err != nil || cookie.Value == "" {
		s.log.Info("create rejected", zap.String("remote_addr", r.RemoteAddr))
		writeJSON(w, createResponse{Result: result{
			Value:   "UnauthorizedRequest",
			Message: "Sorry, you need to login first to access this service.",
		}})
		return
	}

	c := &Conversation{
		ID:        uuid.NewString(),
		ClientID:  uuid.NewString(),
		Signature: uuid.NewString(),
		Cookie:    cookie.Value,
	}
	s.hub.Register(c)
	s.log.Info("conversation created",
		zap.String("conversation_id", c.ID),
		zap.String("forwarded_for", r.Header.Get("X-Forwarded-For")))

	writeJSON(w, createResponse{
		ConversationID:        c.ID,
		ClientID:              c.ClientID,
		ConversationSignature: c.Signature,
		Result:                result{Value: "Success"},
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleChatHub handles WebSocket upgrade and serves one turn
func (s *Server) handleChatHub(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "server stopping", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	st := &stream{conn: conn, remoteAddr: conn.RemoteAddr().String()}
	s.hub.open(st)
	defer s.hub.release(st)
	defer conn.Close()

	s.serveStream(st)
}

func (s *Server) serveStream(st *stream) {
	log := s.log.With(zap.String("remote_addr", st.remoteAddr))

	pending, err := s.negotiate(st)
	if err != nil {
		log.Warn("handshake failed", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, err.Error())
		_ = st.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		return
	}

	inv, conv, err := s.awaitInvocation(st, pending)
	if err != nil {
		log.Warn("invocation rejected", zap.Error(err))
		if err := s.send(st, closeFrame{Type: protocol.MessageTypeClose, Error: err.Error()}); err == nil {
			s.awaitClose(st)
		}
		return
	}

	arg := inv.Arguments[0]
	s.hub.record(conv, TurnRecord{
		InvocationID:     inv.InvocationID,
		Text:             arg.Message.Text,
		IsStartOfSession: arg.IsStartOfSession,
	})
	log = log.With(zap.String("conversation_id", conv.ID), zap.String("invocation_id", inv.InvocationID))
	log.Info("turn accepted", zap.Bool("start_of_session", arg.IsStartOfSession))

	if err := s.streamReply(st, conv, s.responder(arg.Message.Text)); err != nil {
		log.Warn("failed to stream reply", zap.Error(err))
		return
	}
	s.awaitClose(st)
	log.Info("turn finished")
}

// negotiate expects the json/1 handshake and acknowledges it. Frames that
// arrived together with the handshake are returned.
func (s *Server) negotiate(st *stream) ([]protocol.Frame, error) {
	frames, err := s.readFrames(st)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errors.New("expected handshake")
	}

	var hs protocol.Handshake
	if err := frames[0].Unmarshal(&hs); err != nil {
		return nil, fmt.Errorf("invalid handshake: %w", err)
	}
	if hs.Protocol != protocol.HandshakeJSON || hs.Version != protocol.HandshakeVersion {
		return nil, fmt.Errorf("unsupported protocol %q version %d", hs.Protocol, hs.Version)
	}

	if err := s.send(st, struct{}{}); err != nil {
		return nil, err
	}
	return frames[1:], nil
}

// awaitInvocation reads until a chat invocation for a known conversation
// arrives. Pings are ignored.
func (s *Server) awaitInvocation(st *stream, pending []protocol.Frame) (*protocol.Invocation, *Conversation, error) {
	for {
		for _, f := range pending {
			mt, ok := f.Type()
			if !ok {
				continue
			}
			switch mt {
			case protocol.MessageTypePing:
				continue
			case protocol.MessageTypeInvocation:
				return s.acceptInvocation(f)
			default:
				s.log.Debug("ignoring frame", zap.Stringer("type", mt))
			}
		}

		var err error
		if pending, err = s.readFrames(st); err != nil {
			return nil, nil, err
		}
	}
}

func (s *Server) acceptInvocation(f protocol.Frame) (*protocol.Invocation, *Conversation, error) {
	var inv protocol.Invocation
	if err := f.Unmarshal(&inv); err != nil {
		return nil, nil, fmt.Errorf("invalid invocation: %w", err)
	}
	if inv.Target != protocol.TargetChat || len(inv.Arguments) != 1 {
		return nil, nil, fmt.Errorf("unexpected invocation target %q", inv.Target)
	}
	arg := inv.Arguments[0]
	conv, ok := s.hub.lookup(arg.ConversationID, arg.ConversationSignature)
	if !ok {
		return nil, nil, fmt.Errorf("unknown conversation %q", arg.ConversationID)
	}
	if arg.Participant.ID != conv.ClientID {
		return nil, nil, fmt.Errorf("unknown participant %q", arg.Participant.ID)
	}
	return &inv, conv, nil
}

// streamReply sends the reply as growing prefixes, then the completion and
// close instruction in a single message.
func (s *Server) streamReply(st *stream, conv *Conversation, reply string) error {
	messageID := uuid.NewString()
	words := strings.Fields(reply)
	for i := range words {
		update := updateFrame{
			Type:   protocol.MessageTypeUpdate,
			Target: "update",
			Arguments: []updateArgument{{
				Messages: []botMessage{{
					Text:      strings.Join(words[:i+1], " "),
					Author:    "bot",
					MessageID: messageID,
				}},
				RequestID: messageID,
			}},
		}
		if err := s.send(st, update); err != nil {
			return err
		}
		if s.updateDelay > 0 {
			time.Sleep(s.updateDelay)
		}
	}

	complete, err := protocol.Encode(completeFrame{
		Type:         protocol.MessageTypeComplete,
		InvocationID: "0",
		Item: completeItem{
			Messages:       []botMessage{{Text: reply, Author: "bot", MessageID: messageID}},
			ConversationID: conv.ID,
			Result:         result{Value: "Success"},
		},
	})
	if err != nil {
		return err
	}
	closing, err := protocol.Encode(closeFrame{Type: protocol.MessageTypeClose, InvocationID: "0"})
	if err != nil {
		return err
	}
	return st.conn.WriteMessage(websocket.TextMessage, append(complete, closing...))
}

// awaitClose drains the connection until the client's close frame, which
// the default close handler answers.
func (s *Server) awaitClose(st *stream) {
	for {
		if _, err := s.readFrames(st); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.log.Debug("stream ended without close", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) readFrames(st *stream) ([]protocol.Frame, error) {
	if err := st.conn.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
		return nil, err
	}
	messageType, data, err := st.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if messageType != websocket.TextMessage {
		return nil, nil
	}
	frames, skipped := protocol.Decode(data)
	for _, err := range skipped {
		s.log.Warn("skipping frame", zap.Error(err))
	}
	return frames, nil
}

func (s *Server) send(st *stream, v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return st.conn.WriteMessage(websocket.TextMessage, data)
}
