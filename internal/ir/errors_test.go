package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("define: %w", Duplicate(ConstructRule, "MAIN::r"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindDuplicate, KindOf(err))
	assert.Equal(t, "DUPLICATE: defrule MAIN::r: already defined", errors.Unwrap(err).Error())
}

func TestAlreadyRetractedIsNotFound(t *testing.T) {
	err := Errorf(KindAlreadyRetracted, "fact f-3 is retracted")
	assert.ErrorIs(t, err, ErrAlreadyRetracted)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessingWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Processing("my-fn", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindProcessing))
	assert.Equal(t, "PROCESSING: my-fn: boom", err.Error())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}
