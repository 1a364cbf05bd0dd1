package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStr(t *testing.T) {
	t.Setenv("LECTURE_TEST_STR", "value")
	assert.Equal(t, "value", Str("LECTURE_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", Str("LECTURE_TEST_STR_UNSET", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("LECTURE_TEST_INT", "42")
	assert.Equal(t, 42, Int("LECTURE_TEST_INT", 0))
	assert.Equal(t, 7, Int("LECTURE_TEST_INT_UNSET", 7))

	t.Setenv("LECTURE_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, Int("LECTURE_TEST_INT_BAD", 7))
}

func TestFloat(t *testing.T) {
	t.Setenv("LECTURE_TEST_FLOAT", "3.14")
	assert.InDelta(t, 3.14, Float("LECTURE_TEST_FLOAT", 0), 0.0001)
	assert.InDelta(t, 1.5, Float("LECTURE_TEST_FLOAT_UNSET", 1.5), 0.0001)

	t.Setenv("LECTURE_TEST_FLOAT_BAD", "nope")
	assert.InDelta(t, 1.5, Float("LECTURE_TEST_FLOAT_BAD", 1.5), 0.0001)
}
