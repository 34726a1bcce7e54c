package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotFound, CodeOf(NotFound("appointment", nil)))
	assert.Equal(t, ErrSlotConflict, CodeOf(SlotConflict("")))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain error")))
	assert.Equal(t, ErrInternal, CodeOf(nil))
}

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("while accepting referral: %w", SlotConflict(""))
	assert.Equal(t, ErrSlotConflict, CodeOf(wrapped))
	assert.True(t, Is(wrapped, ErrSlotConflict))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := stderrors.New("row not found")
	err := NotFound("referral", cause)
	assert.Equal(t, "referral not found: row not found", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestDefaultMessages(t *testing.T) {
	assert.Equal(t, "unauthorized", Unauthorized("").Message)
	assert.Equal(t, "requested time slot conflicts with an existing reservation", SlotConflict("").Message)
	assert.Equal(t, "treatment is not available at this branch", TreatmentUnavailable("").Message)
}

func TestInvalidTransitionMessage(t *testing.T) {
	err := InvalidTransition("completed", "cancelled")
	assert.Equal(t, "cannot transition from completed to cancelled", err.Error())
	assert.True(t, Is(err, ErrInvalidTransition))
}
