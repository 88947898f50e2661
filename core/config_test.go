package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigConnectTimeout(t *testing.T) {
	config := NewConfig("http://example.com/")
	assert.Equal(t, 300*time.Second, config.ConnectTimeout())

	config.ConnectTimeoutSeconds = 10
	assert.Equal(t, 10*time.Second, config.ConnectTimeout())

	ms := 1500
	config.ConnectTimeoutMillis = &ms
	assert.Equal(t, 1500*time.Millisecond, config.ConnectTimeout())
}

func TestConfigValidate(t *testing.T) {
	negative := -1
	testCases := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{name: "default", modify: func(*Config) {}, valid: true},
		{name: "empty_url", modify: func(c *Config) { c.URL = "" }},
		{name: "negative_seconds", modify: func(c *Config) { c.ConnectTimeoutSeconds = -1 }},
		{name: "negative_millis", modify: func(c *Config) { c.ConnectTimeoutMillis = &negative }},
		{name: "negative_max_redirs", modify: func(c *Config) { c.MaxRedirects = -1 }},
		{name: "zero_timeout", modify: func(c *Config) { c.ConnectTimeoutSeconds = 0 }, valid: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := NewConfig("http://example.com/")
			tc.modify(config)
			if tc.valid {
				assert.NoError(t, config.Validate())
			} else {
				assert.Error(t, config.Validate())
			}
		})
	}
}
