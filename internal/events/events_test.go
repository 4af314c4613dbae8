package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// A nil *Publisher is the disabled-Kafka configuration: every method
// must be a safe no-op so callers never need to branch on whether
// publication is enabled.
func TestNilPublisher_MethodsAreNoops(t *testing.T) {
	var p *Publisher

	assert.NotPanics(t, func() {
		p.PublishBlockCommitted(BlockCommitted{Height: 1, BlockID: "b1"})
	})
	assert.NotPanics(t, func() {
		p.PublishReorgHandled(ReorgHandled{ForkHeight: 1, Depth: 1})
	})
	assert.NoError(t, p.Close())
}
