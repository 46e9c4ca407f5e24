package web

import (
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerStartStop(t *testing.T) {
	srv, err := NewServer(&Config{Addr: "127.0.0.1:0", Mode: gin.TestMode}, logger.NewNoop(),
		WithMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	srv.Router().GET("/ping", func(c *gin.Context) {
		Success(c, gin.H{"pong": true})
	})

	require.NoError(t, srv.Start())
	assert.ErrorIs(t, srv.Start(), ErrServerAlreadyStarted)

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"code":0,"message":"ok","data":{"pong":true}}`, string(body))

	require.NoError(t, srv.Stop())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.ErrorIs(t, (&Config{Addr: ":1", EnableTLS: true}).Validate(), ErrInvalidConfig)
}
