package core

import (
	"errors"
	"net/http"
	"time"
)

const (
	DefaultConnectTimeoutSeconds = 300
	DefaultMaxRedirects          = 50
)

type Config struct {
	URL     string
	Method  string
	Header  http.Header
	Verbose bool
	// Insecure disables TLS peer verification.
	// The verification result is still reported as ssl_verifyresult.
	Insecure              bool
	Compressed            bool
	ConnectTimeoutSeconds int
	// ConnectTimeoutMillis overrides ConnectTimeoutSeconds when set.
	ConnectTimeoutMillis *int
	// Body switches the transfer to upload mode when set.
	Body           *string
	WriteOut       string
	FollowLocation bool
	MaxRedirects   int
}

func NewConfig(url string) *Config {
	return &Config{
		URL:                   url,
		Header:                http.Header{},
		ConnectTimeoutSeconds: DefaultConnectTimeoutSeconds,
		MaxRedirects:          DefaultMaxRedirects,
	}
}

// ConnectTimeout returns the bound applied to the connection phase.
func (c *Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMillis != nil {
		return time.Duration(*c.ConnectTimeoutMillis) * time.Millisecond
	}
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("URL must be specified")
	}
	if c.ConnectTimeoutSeconds < 0 {
		return errors.New("connect timeout must not be negative")
	}
	if c.ConnectTimeoutMillis != nil && *c.ConnectTimeoutMillis < 0 {
		return errors.New("connect timeout must not be negative")
	}
	if c.MaxRedirects < 0 {
		return errors.New("max redirects must not be negative")
	}
	return nil
}
