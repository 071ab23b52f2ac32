// Package config loads the bing-chat configuration.
//
// Sources, highest priority first:
//  1. CLI flags bound to the viper instance
//  2. Environment variables (BINGCHAT_* prefix, "." replaced by "_")
//  3. YAML config file (optional)
//  4. Built-in defaults
//
// Keys:
//
//	cookie                   session cookie, either the bare _U value or a full cookie header
//	endpoints.create         conversation creation URL
//	endpoints.chathub        chat hub websocket URL
//	endpoints.forwarded_for  x-forwarded-for value sent on creation
//	options_sets             feature flags sent with every turn
//	http.timeout             timeout for the creation request and the websocket dial
//	log.level                debug | info | warn | error
//	log.format               console | json
//	log.file                 rotate logs into this file instead of stderr
//	metrics.addr             serve prometheus metrics on this address when set
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/altfoxie/bing-client/internal/chat"
	"github.com/altfoxie/bing-client/internal/transport/ws"
	"github.com/altfoxie/bing-client/pkg/protocol"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "BINGCHAT"

// Config contains all configuration fields
type Config struct {
	Cookie string

	Endpoints struct {
		Create       string
		ChatHub      string
		ForwardedFor string
	}

	OptionsSets []string

	HTTP struct {
		Timeout time.Duration
	}

	Log struct {
		Level  string
		Format string
		File   string
	}

	Metrics struct {
		Addr string
	}
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Endpoints.Create = chat.DefaultCreateURL
	cfg.Endpoints.ChatHub = chat.DefaultChatHubURL
	cfg.Endpoints.ForwardedFor = chat.DefaultForwardedFor
	cfg.OptionsSets = append([]string(nil), protocol.DefaultOptionsSets...)
	cfg.HTTP.Timeout = chat.DefaultTimeout
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load reads configuration from v, which may already carry bound flags.
// path is optional; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	cfg.Cookie = v.GetString("cookie")
	cfg.Endpoints.Create = v.GetString("endpoints.create")
	cfg.Endpoints.ChatHub = v.GetString("endpoints.chathub")
	cfg.Endpoints.ForwardedFor = v.GetString("endpoints.forwarded_for")
	cfg.OptionsSets = v.GetStringSlice("options_sets")
	cfg.HTTP.Timeout = v.GetDuration("http.timeout")
	cfg.Log.Level = v.GetString("log.level")
	cfg.Log.Format = v.GetString("log.format")
	cfg.Log.File = v.GetString("log.file")
	cfg.Metrics.Addr = v.GetString("metrics.addr")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := DefaultConfig()

	v.SetDefault("cookie", "")
	v.SetDefault("endpoints.create", defaults.Endpoints.Create)
	v.SetDefault("endpoints.chathub", defaults.Endpoints.ChatHub)
	v.SetDefault("endpoints.forwarded_for", defaults.Endpoints.ForwardedFor)
	v.SetDefault("options_sets", defaults.OptionsSets)
	v.SetDefault("http.timeout", defaults.HTTP.Timeout)
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.addr", "")
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() []error {
	var errs []error

	if c.Cookie == "" {
		errs = append(errs, &ValidationError{Field: "cookie", Message: "cookie is required"})
	} else if _, err := chat.NormalizeCookie(c.Cookie); err != nil {
		errs = append(errs, &ValidationError{Field: "cookie", Message: err.Error()})
	}

	if err := checkURL(c.Endpoints.Create, "http", "https"); err != nil {
		errs = append(errs, &ValidationError{Field: "endpoints.create", Message: err.Error()})
	}
	if err := checkURL(c.Endpoints.ChatHub, "ws", "wss"); err != nil {
		errs = append(errs, &ValidationError{Field: "endpoints.chathub", Message: err.Error()})
	}

	if len(c.OptionsSets) == 0 {
		errs = append(errs, &ValidationError{Field: "options_sets", Message: "at least one option set is required"})
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "http.timeout",
			Message: fmt.Sprintf("timeout must be positive, got %s", c.HTTP.Timeout),
		})
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Field: "log.level", Message: err.Error()})
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, &ValidationError{
			Field:   "log.format",
			Message: fmt.Sprintf("format must be console or json, got %q", c.Log.Format),
		})
	}

	return errs
}

// Err joins the validation errors into one, or returns nil.
func (c *Config) Err() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Chat maps the configuration onto the conversation engine's settings.
func (c *Config) Chat(logger *zap.Logger) chat.Config {
	return chat.Config{
		CreateURL:    c.Endpoints.Create,
		ChatHubURL:   c.Endpoints.ChatHub,
		ForwardedFor: c.Endpoints.ForwardedFor,
		OptionsSets:  c.OptionsSets,
		HTTPClient:   &http.Client{Timeout: c.HTTP.Timeout},
		Dialer:       chat.WSDialer(ws.Dialer{Timeout: c.HTTP.Timeout}),
		Logger:       logger,
	}
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, "/"))
}
