package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (*Config)(nil).Validate(), ErrNilConfig)
	assert.ErrorIs(t, (&Config{Host: "h"}).Validate(), ErrInvalidConfig)
	assert.NoError(t, DefaultConfig().Validate())
}

func TestConnString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "pw"
	s := connString(cfg)
	assert.Contains(t, s, "host=localhost")
	assert.Contains(t, s, "port=5432")
	assert.Contains(t, s, "password=pw")
	assert.Contains(t, s, "dbname=xdooria")
	assert.Contains(t, s, "connect_timeout=10")
}
