package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Options(t *testing.T) {
	cfg := Config{Addr: "localhost:6379", Password: "pw", DB: 2}
	opts := cfg.Options()

	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Nil(t, opts.TLSConfig)
}

func TestConfig_OptionsTLS(t *testing.T) {
	cfg := Config{Addr: "redis:6380", TLS: true}
	opts := cfg.Options()

	if assert.NotNil(t, opts.TLSConfig) {
		assert.NotZero(t, opts.TLSConfig.MinVersion)
	}
}
