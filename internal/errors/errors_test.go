package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codeErr int

func (c codeErr) Error() string { return "code" }

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, "invalid input", err.Error())

	wrapped := Wrap(err, KindInternal, "failed to validate")
	assert.Equal(t, "failed to validate: invalid input", wrapped.Error())

	bare := Wrap(errors.New("inner"), KindConflict, "")
	assert.Equal(t, "inner", bare.Error())

	assert.Nil(t, Wrap(nil, KindInternal, "x"))
	assert.Nil(t, Attr(nil, "k", "v"))
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	assert.Equal(t, KindValidation, GetKind(err))

	wrapped := Wrap(err, KindExhausted, "failed")
	assert.Equal(t, KindExhausted, GetKind(wrapped))

	assert.Equal(t, KindUnknown, GetKind(errors.New("std error")))
	assert.Equal(t, "exhausted", KindExhausted.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestIsComparableCode(t *testing.T) {
	const c codeErr = 7
	err := Wrapf(c, KindNotFound, "stream %d", 3)
	assert.True(t, Is(err, c))
	assert.False(t, Is(err, codeErr(8)))
	assert.Equal(t, "stream 3: code", err.Error())
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	assert.Equal(t, "port", attrs["field"])
	assert.Equal(t, 80, attrs["value"])

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	assert.Equal(t, "port", allAttrs["field"])
	assert.Equal(t, "start", allAttrs["operation"])

	plain := Attr(errors.New("std"), "k", 1)
	assert.Equal(t, KindInternal, GetKind(plain))
	assert.Equal(t, "std", plain.Error())
}
