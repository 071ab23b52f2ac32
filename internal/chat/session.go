package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/altfoxie/bing-client/internal/metrics"
	"go.uber.org/zap"
)

// Identity identifies an established conversation. It never changes after
// bootstrap.
type Identity struct {
	ConversationID        string `json:"conversationId"`
	ClientID              string `json:"clientId"`
	ConversationSignature string `json:"conversationSignature"`
}

type createResult struct {
	Identity
	Result *struct {
		Value   string `json:"value"`
		Message string `json:"message"`
	} `json:"result"`
}

// NormalizeCookie returns the value of the _U cookie. A credential without
// ';' is taken as the value itself; otherwise the pair whose key is _U
// (any case) is picked.
func NormalizeCookie(cookie string) (string, error) {
	if !strings.Contains(cookie, ";") {
		return cookie, nil
	}
	for _, pair := range strings.Split(cookie, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if strings.ToLower(key) == "_u" {
			return value, nil
		}
	}
	return "", ErrCookieNotFound
}

// Bootstrap trades the credential for a conversation identity. It makes a
// single request and never retries.
func Bootstrap(ctx context.Context, cfg Config, cookie string) (Identity, error) {
	cfg = cfg.withDefaults()

	value, err := NormalizeCookie(cookie)
	if err != nil {
		return Identity{}, err
	}

	start := time.Now()
	id, err := createConversation(ctx, cfg, value)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.BootstrapDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		cfg.Logger.Debug("conversation creation failed", zap.Error(err))
		return Identity{}, err
	}

	cfg.Logger.Debug("conversation created", zap.String("conversation_id", id.ConversationID))
	return id, nil
}

func createConversation(ctx context.Context, cfg Config, value string) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.CreateURL, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: failed to build request: %w", ErrProtocol, err)
	}
	req.Header.Set("cookie", "_U="+value)
	req.Header.Set("x-forwarded-for", cfg.ForwardedFor)

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: failed to create conversation: %w", ErrProtocol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, fmt.Errorf("%w: failed to create conversation: unexpected status %s", ErrProtocol, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: failed to read response: %w", ErrProtocol, err)
	}

	var result createResult
	if err := json.Unmarshal(body, &result); err != nil {
		return Identity{}, fmt.Errorf("%w: failed to decode conversation: %w", ErrDecode, err)
	}
	if result.Result != nil && result.Result.Value != "" && result.Result.Value != "Success" {
		return Identity{}, fmt.Errorf("%w: conversation rejected: %s: %s", ErrProtocol, result.Result.Value, result.Result.Message)
	}
	if result.ConversationID == "" || result.ClientID == "" || result.ConversationSignature == "" {
		return Identity{}, fmt.Errorf("%w: conversation response is missing identity fields", ErrDecode)
	}
	return result.Identity, nil
}
