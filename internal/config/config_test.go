package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/altfoxie/bing-client/internal/chat"
	"github.com/altfoxie/bing-client/pkg/protocol"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.Cookie)
	assert.Equal(t, chat.DefaultCreateURL, cfg.Endpoints.Create)
	assert.Equal(t, chat.DefaultChatHubURL, cfg.Endpoints.ChatHub)
	assert.Equal(t, "1.1.1.1", cfg.Endpoints.ForwardedFor)
	assert.Equal(t, protocol.DefaultOptionsSets, cfg.OptionsSets)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, chat.DefaultChatHubURL, cfg.Endpoints.ChatHub)
	assert.Equal(t, protocol.DefaultOptionsSets, cfg.OptionsSets)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cookie: "MUID=1; _U=from-file"
endpoints:
  chathub: ws://127.0.0.1:9000/sydney/ChatHub
options_sets:
  - deepleo
  - enablemm
http:
  timeout: 5s
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "MUID=1; _U=from-file", cfg.Cookie)
	assert.Equal(t, "ws://127.0.0.1:9000/sydney/ChatHub", cfg.Endpoints.ChatHub)
	assert.Equal(t, chat.DefaultCreateURL, cfg.Endpoints.Create)
	assert.Equal(t, []string{"deepleo", "enablemm"}, cfg.OptionsSets)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))

	_, err := Load(viper.New(), path)
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("BINGCHAT_COOKIE", "env-cookie")
	t.Setenv("BINGCHAT_LOG_LEVEL", "warn")
	t.Setenv("BINGCHAT_ENDPOINTS_FORWARDED_FOR", "8.8.8.8")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "env-cookie", cfg.Cookie)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "8.8.8.8", cfg.Endpoints.ForwardedFor)
}

func TestLoad_ExplicitValueWins(t *testing.T) {
	t.Setenv("BINGCHAT_COOKIE", "env-cookie")

	v := viper.New()
	v.Set("cookie", "flag-cookie")

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "flag-cookie", cfg.Cookie)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		modifyFn  func(*Config)
		wantField string
	}{
		{name: "valid", modifyFn: func(c *Config) {}},
		{name: "missing cookie", modifyFn: func(c *Config) { c.Cookie = "" }, wantField: "cookie"},
		{name: "cookie without _U", modifyFn: func(c *Config) { c.Cookie = "a=1; b=2" }, wantField: "cookie"},
		{name: "bad create url", modifyFn: func(c *Config) { c.Endpoints.Create = "ftp://x" }, wantField: "endpoints.create"},
		{name: "bad chathub url", modifyFn: func(c *Config) { c.Endpoints.ChatHub = "https://x" }, wantField: "endpoints.chathub"},
		{name: "relative url", modifyFn: func(c *Config) { c.Endpoints.ChatHub = "/sydney" }, wantField: "endpoints.chathub"},
		{name: "no options", modifyFn: func(c *Config) { c.OptionsSets = nil }, wantField: "options_sets"},
		{name: "zero timeout", modifyFn: func(c *Config) { c.HTTP.Timeout = 0 }, wantField: "http.timeout"},
		{name: "bad level", modifyFn: func(c *Config) { c.Log.Level = "loud" }, wantField: "log.level"},
		{name: "bad format", modifyFn: func(c *Config) { c.Log.Format = "xml" }, wantField: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Cookie = "token"
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if tt.wantField == "" {
				assert.Empty(t, errs)
				assert.NoError(t, cfg.Err())
				return
			}
			require.Len(t, errs, 1)
			var verr *ValidationError
			require.ErrorAs(t, errs[0], &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.ErrorContains(t, cfg.Err(), tt.wantField)
		})
	}
}

func TestConfig_Chat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Endpoints.ChatHub = "ws://localhost/hub"
	cfg.HTTP.Timeout = 3 * time.Second
	logger := zap.NewNop()

	cc := cfg.Chat(logger)
	assert.Equal(t, chat.DefaultCreateURL, cc.CreateURL)
	assert.Equal(t, "ws://localhost/hub", cc.ChatHubURL)
	assert.Equal(t, "1.1.1.1", cc.ForwardedFor)
	assert.Equal(t, protocol.DefaultOptionsSets, cc.OptionsSets)
	assert.Equal(t, 3*time.Second, cc.HTTPClient.Timeout)
	assert.NotNil(t, cc.Dialer)
	assert.Same(t, logger, cc.Logger)
}
