package pubsub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageAttributesAddsPrefixedName(t *testing.T) {
	in := map[string]string{"event_type": "leg.bridged"}

	out := messageAttributes("beta", in)

	assert.Equal(t, "leg.bridged", out["event_type"])
	assert.True(t, strings.HasPrefix(out["name"], "beta:"))
	assert.NotContains(t, in, "name")
}

func TestMessageAttributesWithoutPrefix(t *testing.T) {
	out := messageAttributes("", nil)

	assert.Len(t, out, 1)
	assert.NotContains(t, out["name"], ":")
}
