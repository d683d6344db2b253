package oops

import (
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ErrSample = errors.New("some error occurred that you should handle")

type SampleErrorType struct {
	Message string
}

func (s SampleErrorType) Error() string {
	return s.Message
}

func init() {
	zerolog.ErrorStackMarshaler = ZerologStackMarshaler
}

func TestNew(t *testing.T) {
	t.Run("errors.Is", func(t *testing.T) {
		err := New(ErrSample, "test error")
		assert.ErrorIs(t, err, ErrSample)
	})
	t.Run("errors.As", func(t *testing.T) {
		err := New(SampleErrorType{Message: "some fancy error type has occurred"}, "test error")
		var sErr SampleErrorType
		require.True(t, errors.As(err, &sErr))
		assert.Equal(t, "some fancy error type has occurred", sErr.Message)
	})
	t.Run("message", func(t *testing.T) {
		assert.Equal(t, "failed to delete message 12: some error occurred that you should handle", New(ErrSample, "failed to delete message %d", 12).Error())
		assert.Equal(t, "no wrapped error", New(nil, "no wrapped error").Error())
	})
	t.Run("stack starts at caller", func(t *testing.T) {
		err := New(nil, "boom").(*Error)
		require.NotEmpty(t, err.Stack)
		assert.True(t, strings.HasSuffix(err.Stack[0].Function, "TestNew.func4"), err.Stack[0].Function)
	})
}

func TestTrace(t *testing.T) {
	s := Trace()
	require.NotEmpty(t, s)
	assert.True(t, strings.HasSuffix(s[0].Function, "TestTrace"), s[0].Function)
}
