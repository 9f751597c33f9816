package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airdeck/skybridge/component"
)

func TestDisabledMirrorIsInert(t *testing.T) {
	m := New("", "", nil)

	assert.False(t, m.Enabled())
	require.NoError(t, m.Initialize())
	require.NoError(t, m.Start(context.Background()))

	// Publishing without a broker is a silent no-op.
	m.PublishState("tp.plugin.test.BARO", "Baro", "1013")
	m.PublishSession("connected")

	require.NoError(t, m.Stop(time.Second))
}

func TestEnabledFlag(t *testing.T) {
	assert.True(t, New("nats://localhost:4222", "", nil).Enabled())
}

func TestSubjectPrefixDefault(t *testing.T) {
	m := New("", "", nil)
	assert.Equal(t, DefaultSubjectPrefix, m.prefix)

	m = New("", "custom.prefix", nil)
	assert.Equal(t, "custom.prefix", m.prefix)
}

func TestHealth_DisabledMirror(t *testing.T) {
	m := New("", "", nil)

	require.NoError(t, m.Initialize())
	h := m.Health()
	assert.Equal(t, component.StateInitialized, h.State)
	assert.False(t, h.Healthy)

	// A disabled mirror is healthy once started: there is nothing to connect.
	require.NoError(t, m.Start(context.Background()))
	h = m.Health()
	assert.Equal(t, component.StateStarted, h.State)
	assert.True(t, h.Healthy)

	require.NoError(t, m.Stop(time.Second))
	h = m.Health()
	assert.Equal(t, component.StateStopped, h.State)
	assert.False(t, h.Healthy)
}

func TestStopWithoutStart(t *testing.T) {
	m := New("nats://localhost:4222", "", nil)
	require.NoError(t, m.Stop(time.Second))
}
