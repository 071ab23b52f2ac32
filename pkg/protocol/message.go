// Package protocol implements the chat hub wire format: JSON frames
// separated by a record separator byte, plus the frame shapes the client
// sends and the discriminants it understands.
package protocol

import "fmt"

// MessageType represents the numeric "type" discriminant of a frame
type MessageType uint64

const (
	MessageTypeUpdate     MessageType = 1
	MessageTypeComplete   MessageType = 2
	MessageTypeClose      MessageType = 3
	MessageTypeInvocation MessageType = 4
	MessageTypePing       MessageType = 6
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeUpdate:
		return "UPDATE"
	case MessageTypeComplete:
		return "COMPLETE"
	case MessageTypeClose:
		return "CLOSE"
	case MessageTypeInvocation:
		return "INVOCATION"
	case MessageTypePing:
		return "PING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint64(mt))
	}
}

// Known reports whether mt is one of the discriminants defined above.
func (mt MessageType) Known() bool {
	switch mt {
	case MessageTypeUpdate, MessageTypeComplete, MessageTypeClose,
		MessageTypeInvocation, MessageTypePing:
		return true
	}
	return false
}

// Fixed values of the invocation frame.
const (
	TargetChat       = "chat"
	SourceCIB        = "cib"
	AuthorUser       = "user"
	InputKeyboard    = "Keyboard"
	MessageTypeChat  = "Chat"
	HandshakeJSON    = "json"
	HandshakeVersion = 1
)

// DefaultOptionsSets is the feature flag list the service expects on every
// invocation, in order.
var DefaultOptionsSets = []string{
	"nlu_direct_response_filter",
	"deepleo",
	"disable_emoji_spoken_text",
	"responsible_ai_policy_235",
	"enablemm",
	"galileo",
	"newspoleansgnd",
	"cachewriteext",
	"e2ecachewrite",
	"dl_edge_prompt",
	"dv3sugg",
}

// Handshake is the protocol negotiation frame sent first on a new connection.
type Handshake struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// NewHandshake returns the json/1 negotiation frame.
func NewHandshake() Handshake {
	return Handshake{Protocol: HandshakeJSON, Version: HandshakeVersion}
}

// Ping is the keep-alive frame sent after the handshake ack.
type Ping struct {
	Type MessageType `json:"type"`
}

// NewPing returns a type 6 frame.
func NewPing() Ping {
	return Ping{Type: MessageTypePing}
}

// Invocation carries one user turn.
type Invocation struct {
	Arguments    []InvocationArgument `json:"arguments"`
	InvocationID string               `json:"invocationId"`
	Target       string               `json:"target"`
	Type         MessageType          `json:"type"`
}

// InvocationArgument is the single argument object of an Invocation.
type InvocationArgument struct {
	Source                string      `json:"source"`
	OptionsSets           []string    `json:"optionsSets"`
	IsStartOfSession      bool        `json:"isStartOfSession"`
	Message               ChatMessage `json:"message"`
	ConversationSignature string      `json:"conversationSignature"`
	Participant           Participant `json:"participant"`
	ConversationID        string      `json:"conversationId"`
}

// ChatMessage is the user message inside an invocation.
type ChatMessage struct {
	Author      string `json:"author"`
	InputMethod string `json:"inputMethod"`
	Text        string `json:"text"`
	MessageType string `json:"messageType"`
}

// Participant identifies the client in an invocation.
type Participant struct {
	ID string `json:"id"`
}

// InvocationParams holds the per-turn values of an invocation.
type InvocationParams struct {
	InvocationID          string
	OptionsSets           []string
	IsStartOfSession      bool
	Text                  string
	ConversationID        string
	ClientID              string
	ConversationSignature string
}

// NewInvocation builds the type 4 chat invocation frame. A nil OptionsSets
// falls back to DefaultOptionsSets.
func NewInvocation(p InvocationParams) Invocation {
	opts := p.OptionsSets
	if opts == nil {
		opts = DefaultOptionsSets
	}
	return Invocation{
		Arguments: []InvocationArgument{{
			Source:           SourceCIB,
			OptionsSets:      opts,
			IsStartOfSession: p.IsStartOfSession,
			Message: ChatMessage{
				Author:      AuthorUser,
				InputMethod: InputKeyboard,
				Text:        p.Text,
				MessageType: MessageTypeChat,
			},
			ConversationSignature: p.ConversationSignature,
			Participant:           Participant{ID: p.ClientID},
			ConversationID:        p.ConversationID,
		}},
		InvocationID: p.InvocationID,
		Target:       TargetChat,
		Type:         MessageTypeInvocation,
	}
}
