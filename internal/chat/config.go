package chat

import (
	"net/http"
	"time"

	"github.com/altfoxie/bing-client/internal/transport/ws"
	"go.uber.org/zap"
)

const (
	DefaultCreateURL    = "https://www.bing.com/turing/conversation/create"
	DefaultChatHubURL   = "wss://sydney.bing.com/sydney/ChatHub"
	DefaultForwardedFor = "1.1.1.1"
	DefaultTimeout      = 30 * time.Second
)

// Config holds the endpoints and collaborators of a conversation.
// Zero fields are replaced by the defaults.
type Config struct {
	// CreateURL is the conversation creation endpoint.
	CreateURL string

	// ChatHubURL is the streaming websocket endpoint.
	ChatHubURL string

	// ForwardedFor is sent as x-forwarded-for on bootstrap; the service
	// gates some regions by client address.
	ForwardedFor string

	// OptionsSets overrides the feature flags sent with every turn.
	OptionsSets []string

	HTTPClient *http.Client
	Dialer     Dialer
	Logger     *zap.Logger
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		CreateURL:    DefaultCreateURL,
		ChatHubURL:   DefaultChatHubURL,
		ForwardedFor: DefaultForwardedFor,
	}
}

func (c Config) withDefaults() Config {
	if c.CreateURL == "" {
		c.CreateURL = DefaultCreateURL
	}
	if c.ChatHubURL == "" {
		c.ChatHubURL = DefaultChatHubURL
	}
	if c.ForwardedFor == "" {
		c.ForwardedFor = DefaultForwardedFor
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if c.Dialer == nil {
		c.Dialer = WSDialer(ws.Dialer{Timeout: DefaultTimeout})
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
