package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	assert.Equal(t, Reason(""), ReasonOf(nil))
	assert.Equal(t, ReasonInternal, ReasonOf(errors.New("boom")))
	assert.Equal(t, ReasonInvalidToken, ReasonOf(New(ReasonInvalidToken, "bad")))

	wrapped := fmt.Errorf("outer: %w", NotFound("video not found"))
	assert.Equal(t, ReasonNotFound, ReasonOf(wrapped))
	assert.True(t, Is(wrapped, ReasonNotFound))
	assert.False(t, Is(wrapped, ReasonInternal))
}

func TestMessageOfHidesInternalDetail(t *testing.T) {
	assert.Equal(t, "video not found", MessageOf(NotFound("video not found")))
	msg := MessageOf(errors.New("pq: connection refused"))
	assert.NotContains(t, msg, "pq")
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("dial tcp")
	err := Wrap(ReasonSendFailed, "could not send", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "send_failed")
}
