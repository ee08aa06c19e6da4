package errors

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsufficientRoleNamesRequiredRole(t *testing.T) {
	err := InsufficientRole("administrator")

	assert.Equal(t, "INSUFFICIENT_ROLE", err.Code)
	assert.Equal(t, http.StatusForbidden, err.Status)
	assert.Equal(t, "requires administrator role or higher", err.Message)
	assert.Equal(t, "administrator", err.Details["requiredRole"])
	assert.Equal(t, "insufficient role", ErrInsufficientRole.Message)
	assert.Nil(t, ErrInsufficientRole.Details)
}

func TestIsMatchesClonesByCode(t *testing.T) {
	clone := Clone(ErrIdentityNotFound, "who are you")
	wrapped := fmt.Errorf("require auth: %w", clone)

	assert.ErrorIs(t, wrapped, ErrIdentityNotFound)
	assert.NotErrorIs(t, wrapped, ErrNoSystemAccess)
	assert.Equal(t, "IDENTITY_NOT_FOUND", CodeOf(wrapped))
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)

	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, sql.ErrConnDone)
	assert.Empty(t, CodeOf(sql.ErrConnDone))
	assert.Nil(t, FromError(nil))
}
