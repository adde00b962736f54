package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProtocolDefaults(t *testing.T) {
	var p Protocol
	assert.Equal(t, 15*time.Second, p.KeepaliveInterval())
	assert.Equal(t, 45*time.Second, p.PongTimeout())
	assert.Equal(t, 10*time.Second, p.MalformedWindow())
	assert.Equal(t, 5*time.Second, p.BindAckTimeout())
	assert.Equal(t, 5, p.FrameLimit())
}

func TestIdleTTL(t *testing.T) {
	var c Config
	assert.Equal(t, time.Hour, c.IdleTTL())
	c.IdleTTLMinutes = 15
	assert.Equal(t, 15*time.Minute, c.IdleTTL())
}

func TestProtocolOverrides(t *testing.T) {
	p := Protocol{
		KeepaliveSeconds:       30,
		PongTimeoutSeconds:     90,
		MalformedFrameLimit:    10,
		MalformedWindowSeconds: 20,
		BindAckTimeoutSeconds:  2,
	}
	assert.Equal(t, 30*time.Second, p.KeepaliveInterval())
	assert.Equal(t, 90*time.Second, p.PongTimeout())
	assert.Equal(t, 20*time.Second, p.MalformedWindow())
	assert.Equal(t, 2*time.Second, p.BindAckTimeout())
	assert.Equal(t, 10, p.FrameLimit())
}
