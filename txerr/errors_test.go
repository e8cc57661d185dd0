package txerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(StageCustody, CustodyUnavailable, "custody service unreachable")
	assert.Equal(t, "[custody/CUSTODY_UNAVAILABLE] custody service unreachable", err.Error())

	err = Newf(StageSubmit, NodeUnavailable, "send %d records", 3).Wrap(context.DeadlineExceeded)
	assert.Equal(t, "[submit/NODE_UNAVAILABLE] send 3 records: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(StageGroup, AlreadyGrouped, "member 2 already belongs to a group")
	wrapped := fmt.Errorf("group member %d: %w", 2, inner)

	assert.Equal(t, AlreadyGrouped, KindOf(wrapped))
	assert.Equal(t, StageGroup, StageOf(wrapped))
	assert.True(t, Is(wrapped, AlreadyGrouped))
	assert.False(t, Is(wrapped, EmptyGroup))

	var te *Error
	assert.True(t, errors.As(wrapped, &te))
	assert.Same(t, inner, te)

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Stage(""), StageOf(nil))
	assert.False(t, Is(nil, InvalidParameters))
}

func TestRetryableAndSubmitted(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
		submitted bool
	}{
		{InvalidParameters, false, false},
		{IdentityNotProvisioned, false, false},
		{CustodyUnavailable, true, false},
		{SigningFailed, true, false},
		{EncodingError, false, false},
		{EmptyGroup, false, false},
		{AlreadyGrouped, false, false},
		{SubmissionRejected, false, false},
		{ConfirmationTimeout, false, true},
		{NodeUnavailable, true, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := New(StageSubmit, tc.kind, "x")
			assert.Equal(t, tc.retryable, Retryable(err))
			assert.Equal(t, tc.submitted, Submitted(err))
		})
	}
}

func TestSentFailureIsSubmitted(t *testing.T) {
	err := New(StageSubmit, NodeUnavailable, "send raw transaction").Wrap(errors.New("connection reset by peer")).MarkSent()
	wrapped := fmt.Errorf("group: %w", err)

	assert.True(t, Submitted(wrapped))
	assert.False(t, Retryable(wrapped))
	assert.Equal(t, NodeUnavailable, KindOf(wrapped))
}
