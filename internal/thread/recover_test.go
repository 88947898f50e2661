package thread

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoPanic(t *testing.T) {
	testCases := []struct {
		name   string
		f      func() error
		prefix string
	}{
		{name: "panic_value", f: func() error { panic("foo") }, prefix: "panic: foo\ngoroutine "},
		{name: "panic_error", f: func() error { panic(errors.New("bar")) }, prefix: "panic: bar\ngoroutine "},
		{name: "error", f: func() error { return errors.New("baz") }, prefix: "baz"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := NoPanic(tc.f)()
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), tc.prefix), err.Error())
		})
	}

	t.Run("wrapped", func(t *testing.T) {
		parent := errors.New("qux")
		err := NoPanic(func() error { panic(parent) })()
		assert.True(t, errors.Is(err, parent))
	})

	t.Run("no_error", func(t *testing.T) {
		assert.NoError(t, NoPanic(func() error { return nil })())
	})
}
