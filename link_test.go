package aqmsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkTransmit(t *testing.T) {
	lnk, err := NewLink(1000, 0.1)
	require.NoError(t, err)

	p := createPacket(1, 500, 0)
	assert.InDelta(t, 2.6, lnk.Transmit(p, 2.0), 1e-12)
	assert.InDelta(t, 0.6, lnk.Delay(500), 1e-12)
	assert.InDelta(t, 0.1, lnk.Delay(0), 1e-12)

	// the link keeps no state between packets
	assert.Equal(t, lnk.Transmit(p, 2.0), lnk.Transmit(p, 2.0))
}

func TestNewLinkRejectsBadArguments(t *testing.T) {
	_, err := NewLink(0, 0.1)
	assert.True(t, IsConfigError(err))

	_, err = NewLink(1000, -1)
	assert.True(t, IsConfigError(err))

	lnk, err := NewLink(1000, 0)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, lnk.Bandwidth())
	assert.Equal(t, 0.0, lnk.Latency())
}
