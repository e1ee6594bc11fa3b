package eventbus

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_EmptyURLDisablesBus(t *testing.T) {
	p, err := Connect(Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPublisher_NilReceiverIsNoop(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Publish("f1.events.Weather", map[string]any{"airTemp": "20"})
		p.Close()
	})
}
