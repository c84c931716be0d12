package datatrack

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrackSid(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"DTR_abc123", true},
		{"DTR_", false},
		{"TR_abc123", false},
		{"", false},
		{"dtr_abc", false},
	}

	for _, tt := range tests {
		sid, err := ParseTrackSid(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, TrackSid(tt.in), sid)
		} else {
			assert.ErrorIs(t, err, ErrInvalidSid, tt.in)
		}
	}
}

func TestFrameUserTimestamp(t *testing.T) {
	f := NewFrame([]byte("x"))
	_, ok := f.Latency()
	assert.False(t, ok)

	f = f.WithUserTimestamp(42)
	require.NotNil(t, f.UserTimestamp)
	assert.Equal(t, uint64(42), *f.UserTimestamp)

	f = NewFrame(nil).WithUserTimestampNow()
	d, ok := f.Latency()
	assert.True(t, ok)
	assert.Less(t, d, time.Minute)
}

func TestPushFrameError(t *testing.T) {
	frame := NewFrame([]byte{1, 2})

	var err error = &PushFrameError{Frame: frame, Reason: ReasonTrackUnpublished}
	assert.ErrorIs(t, err, ErrUnpublished)
	assert.EqualError(t, err, "failed to push frame: track unpublished")

	err = &PushFrameError{Frame: frame, Reason: ReasonDropped}
	assert.NotErrorIs(t, err, ErrUnpublished)

	var pfe *PushFrameError
	require.True(t, errors.As(err, &pfe))
	assert.Equal(t, frame.Payload, pfe.Frame.Payload)
}

func TestInternalError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&InternalError{Err: cause})
	assert.ErrorIs(t, err, cause)

	var ie *InternalError
	assert.True(t, errors.As(Internalf("handle %d", 3), &ie))
	assert.Equal(t, "internal error: handle 3", ie.Error())
}
