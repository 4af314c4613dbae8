package node

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	wrapped := errors.Wrapf(ErrNodeUnavailable, "GET %s", "/info")
	assert.True(t, IsUnavailable(wrapped))
	assert.False(t, IsMalformed(wrapped))
	assert.False(t, IsNotFound(wrapped))

	assert.True(t, IsMalformed(errors.Wrap(ErrNodeMalformed, "decode")))
	assert.True(t, IsNotFound(errors.Wrap(ErrNodeNotFound, "height 9")))

	assert.False(t, IsUnavailable(errors.New("some other failure")))
}
