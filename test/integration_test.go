package test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/altfoxie/bing-client/internal/chat"
	"github.com/altfoxie/bing-client/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func startServer(t *testing.T, opts ...server.Option) *server.Server {
	t.Helper()
	srv := server.New("127.0.0.1:0", append([]server.Option{server.WithLogger(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)))}, opts...)...)
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()
	select {
	case <-srv.Ready():
	case err := <-errChan:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start in time")
	}
	t.Cleanup(srv.Stop)
	return srv
}

func clientConfig(srv *server.Server) chat.Config {
	cfg := chat.DefaultConfig()
	cfg.CreateURL = srv.CreateURL()
	cfg.ChatHubURL = srv.ChatHubURL()
	cfg.Logger = zap.NewNop()
	return cfg
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// drain returns the update texts and whether a completion arrived.
func drain(t *testing.T, turn *chat.Turn) (updates []string, completed bool) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-turn.Events():
			if !ok {
				return updates, completed
			}
			switch ev.Kind {
			case chat.EventUpdate:
				require.False(t, completed, "update after completion")
				updates = append(updates, ev.Text)
			case chat.EventComplete:
				completed = true
			}
		case <-timeout:
			t.Fatal("event stream did not end")
		}
	}
}

// TestIntegration_ConversationTurns runs two turns end to end
func TestIntegration_ConversationTurns(t *testing.T) {
	srv := startServer(t)
	ctx := testContext(t)

	conv, err := chat.NewConversation(ctx, clientConfig(srv), "theme=1; _U=token")
	require.NoError(t, err)
	assert.True(t, conv.IsStartOfSession())

	for _, text := range []string{"first question", "second question"} {
		turn, err := conv.SendMessage(ctx, text)
		require.NoError(t, err)
		assert.False(t, conv.IsStartOfSession())

		updates, completed := drain(t, turn)
		assert.True(t, completed)
		require.NotEmpty(t, updates)
		assert.Equal(t, "You said: "+text, updates[len(updates)-1])

		require.NoError(t, turn.Wait(ctx))
		assert.True(t, turn.Completed())
		assert.False(t, conv.IsBusy())
	}

	turns := srv.Hub().Turns(conv.ID())
	require.Len(t, turns, 2)
	assert.True(t, turns[0].IsStartOfSession)
	assert.False(t, turns[1].IsStartOfSession)
	assert.Equal(t, conv.LastTurn().InvocationID(), turns[1].InvocationID)
	assert.NotEqual(t, turns[0].InvocationID, turns[1].InvocationID)

	assert.Eventually(t, func() bool {
		return srv.Hub().StreamCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_BusyWhileStreaming(t *testing.T) {
	srv := startServer(t, server.WithUpdateDelay(20*time.Millisecond))
	ctx := testContext(t)

	conv, err := chat.NewConversation(ctx, clientConfig(srv), "token")
	require.NoError(t, err)

	turn, err := conv.SendMessage(ctx, strings.Repeat("word ", 10))
	require.NoError(t, err)
	assert.True(t, conv.IsBusy())

	_, err = conv.SendMessage(ctx, "too soon")
	assert.ErrorIs(t, err, chat.ErrBusy)

	_, completed := drain(t, turn)
	assert.True(t, completed)
	require.Len(t, srv.Hub().Turns(conv.ID()), 1)
}

func TestIntegration_CancelThenContinue(t *testing.T) {
	srv := startServer(t, server.WithUpdateDelay(100*time.Millisecond))
	ctx := testContext(t)

	conv, err := chat.NewConversation(ctx, clientConfig(srv), "token")
	require.NoError(t, err)

	turn, err := conv.SendMessage(ctx, strings.Repeat("word ", 50))
	require.NoError(t, err)

	ev := <-turn.Events()
	assert.Equal(t, chat.EventUpdate, ev.Kind)
	turn.Cancel()

	_, completed := drain(t, turn)
	assert.False(t, completed)
	assert.False(t, turn.Completed())
	select {
	case <-turn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop")
	}
	assert.False(t, conv.IsBusy())

	next, err := conv.SendMessage(ctx, "again")
	require.NoError(t, err)
	updates, completed := drain(t, next)
	assert.True(t, completed)
	assert.Equal(t, "You said: again", updates[len(updates)-1])

	turns := srv.Hub().Turns(conv.ID())
	require.Len(t, turns, 2)
	assert.True(t, turns[0].IsStartOfSession)
	assert.False(t, turns[1].IsStartOfSession)
}

func TestIntegration_UnknownConversation(t *testing.T) {
	srv := startServer(t)
	ctx := testContext(t)

	conv := chat.Resume(clientConfig(srv), chat.Identity{
		ConversationID:        "forged",
		ClientID:              "client",
		ConversationSignature: "sig",
	})

	turn, err := conv.SendMessage(ctx, "hello")
	require.NoError(t, err)

	updates, completed := drain(t, turn)
	assert.Empty(t, updates)
	assert.False(t, completed)
	assert.NoError(t, turn.Wait(ctx))
	assert.False(t, conv.IsBusy())
}

func TestIntegration_Unauthorized(t *testing.T) {
	srv := startServer(t)
	ctx := testContext(t)

	_, err := chat.NewConversation(ctx, clientConfig(srv), "theme=1; _U=")
	assert.ErrorIs(t, err, chat.ErrProtocol)
	assert.Zero(t, srv.Hub().ConversationCount())
}

func TestIntegration_IndependentConversations(t *testing.T) {
	srv := startServer(t, server.WithUpdateDelay(20*time.Millisecond))
	ctx := testContext(t)

	a, err := chat.NewConversation(ctx, clientConfig(srv), "token")
	require.NoError(t, err)
	b, err := chat.NewConversation(ctx, clientConfig(srv), "token")
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	ta, err := a.SendMessage(ctx, "from a")
	require.NoError(t, err)
	tb, err := b.SendMessage(ctx, "from b")
	require.NoError(t, err)

	ua, ca := drain(t, ta)
	ub, cb := drain(t, tb)
	assert.True(t, ca)
	assert.True(t, cb)
	assert.Equal(t, "You said: from a", ua[len(ua)-1])
	assert.Equal(t, "You said: from b", ub[len(ub)-1])
}
