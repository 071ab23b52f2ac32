package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/altfoxie/bing-client/internal/metrics"
	"github.com/altfoxie/bing-client/pkg/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Conversation is a conversation with the chatbot. Turns are strictly
// serialized: SendMessage fails with ErrBusy while a turn is in flight.
// Distinct conversations share no state.
type Conversation struct {
	identity Identity
	cfg      Config
	log      *zap.Logger
	slot     connSlot

	mu             sync.Mutex
	startOfSession bool
	last           *Turn
}

// NewConversation bootstraps a new conversation with the credential.
func NewConversation(ctx context.Context, cfg Config, cookie string) (*Conversation, error) {
	cfg = cfg.withDefaults()
	id, err := Bootstrap(ctx, cfg, cookie)
	if err != nil {
		return nil, err
	}
	return Resume(cfg, id), nil
}

// Resume returns a handle for an identity obtained earlier. The next turn
// is sent as the start of the session.
func Resume(cfg Config, id Identity) *Conversation {
	cfg = cfg.withDefaults()
	return &Conversation{
		identity:       id,
		cfg:            cfg,
		log:            cfg.Logger.With(zap.String("conversation_id", id.ConversationID)),
		startOfSession: true,
	}
}

// ID returns the conversation ID
func (c *Conversation) ID() string {
	return c.identity.ConversationID
}

// ClientID returns the client ID
func (c *Conversation) ClientID() string {
	return c.identity.ClientID
}

// Signature returns the conversation signature
func (c *Conversation) Signature() string {
	return c.identity.ConversationSignature
}

// IsStartOfSession reports whether the next turn opens the session
func (c *Conversation) IsStartOfSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startOfSession
}

// IsBusy reports whether a turn currently holds the connection
func (c *Conversation) IsBusy() bool {
	return c.slot.present()
}

// LastTurn returns the most recently started turn, or nil.
func (c *Conversation) LastTurn() *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// SendMessage opens the chat hub connection, performs the handshake and
// sends text as a new turn. The returned Turn streams the answer. Failures
// before that point are returned here and leave the conversation idle;
// later failures only end the event stream. Cancelling ctx stops the turn.
func (c *Conversation) SendMessage(ctx context.Context, text string) (*Turn, error) {
	l, ok := c.slot.tryAcquire()
	if !ok {
		metrics.BusyRejectionsTotal.Inc()
		return nil, ErrBusy
	}

	turn, err := c.startTurn(ctx, l, text)
	if err != nil {
		if conn := c.slot.take(l); conn != nil {
			conn.Close()
		}
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		c.log.Debug("idle", zap.Error(err))
		return nil, err
	}
	return turn, nil
}

func (c *Conversation) startTurn(ctx context.Context, l *lease, text string) (*Turn, error) {
	c.log.Debug("connecting", zap.String("url", c.cfg.ChatHubURL))
	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.ChatHubURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	if !c.slot.attach(l, conn) {
		conn.Close()
		return nil, ErrNotConnected
	}

	c.log.Debug("handshaking", zap.String("remote_addr", conn.RemoteAddr()))
	if err := c.write(ctx, l, protocol.NewHandshake()); err != nil {
		return nil, err
	}
	if _, err := conn.Read(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInit, err)
	}
	if err := c.write(ctx, l, protocol.NewPing()); err != nil {
		return nil, err
	}

	c.log.Debug("awaiting turn")
	c.mu.Lock()
	start := c.startOfSession
	c.mu.Unlock()

	invocationID := uuid.NewString()
	inv := protocol.NewInvocation(protocol.InvocationParams{
		InvocationID:          invocationID,
		OptionsSets:           c.cfg.OptionsSets,
		IsStartOfSession:      start,
		Text:                  text,
		ConversationID:        c.identity.ConversationID,
		ClientID:              c.identity.ClientID,
		ConversationSignature: c.identity.ConversationSignature,
	})
	if err := c.write(ctx, l, inv); err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := newTurn(invocationID, cancel)
	d := &demux{
		conn:  conn,
		slot:  &c.slot,
		lease: l,
		turn:  t,
		log:   c.log.With(zap.String("invocation_id", invocationID)),
	}

	c.mu.Lock()
	c.startOfSession = false
	c.last = t
	c.mu.Unlock()

	go t.queue.pump(ctx.Done())
	go t.run(turnCtx, d)

	metrics.TurnsStartedTotal.Inc()
	c.log.Debug("streaming", zap.String("invocation_id", invocationID))
	return t, nil
}

func (c *Conversation) write(ctx context.Context, l *lease, v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	conn, ok := c.slot.writer(l)
	if !ok {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return nil
}
