package utils

import (
	"errors"
	"testing"

	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/stretchr/testify/assert"
)

type statementError struct{}

func (err *statementError) Error() string {
	return "relation does not exist"
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, 30, OrDefault(0, 30))
	assert.Equal(t, 15, OrDefault(15, 30))
	assert.Equal(t, "phorum", OrDefault("", "phorum"))
}

func TestMust(t *testing.T) {
	t.Run("nil error", func(t *testing.T) {
		Must(nil)
		assert.Equal(t, 4, Must1(4, nil))
	})
	t.Run("non-nil error", func(t *testing.T) {
		assert.Panics(t, func() {
			Must(&statementError{})
		})
		assert.Panics(t, func() {
			Must1(0, &statementError{})
		})
	})
}

func TestSortedUniq(t *testing.T) {
	assert.Equal(t, []int{1, 3, 7}, SortedUniq([]int{7, 3, 1, 3, 7}))
	assert.Equal(t, []int64{}, SortedUniq([]int64{}))
}

var errSentinel = errors.New("sentinel")

func TestRecoverPanicAsError(t *testing.T) {
	t.Run("no panic, no error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			return nil
		}
		assert.Nil(t, f())
	})
	t.Run("no panic, error", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			return errSentinel
		}
		assert.ErrorIs(t, f(), errSentinel)
	})
	t.Run("panic with value", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			panic("blerp")
		}
		err := f()
		var asOops *oops.Error
		assert.ErrorContains(t, err, "blerp")
		assert.True(t, errors.As(err, &asOops))
	})
	t.Run("panic with error keeps both", func(t *testing.T) {
		f := func() (err error) {
			defer RecoverPanicAsError(&err)
			err = errSentinel
			panic(&statementError{})
		}
		err := f()
		var stmtErr *statementError
		assert.True(t, errors.As(err, &stmtErr))
		assert.ErrorIs(t, err, errSentinel)
	})
}
