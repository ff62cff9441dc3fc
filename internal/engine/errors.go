package engine

import (
	"errors"
	"fmt"

	"brigade/internal/repo"
)

// ValidationError reports bad input. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	ErrPlaceholderImmutable = &ValidationError{Field: "role_id", Message: "the placeholder role cannot be archived or modified"}

	// ErrRoleNotArchivable means the role does not exist or is already
	// archived. It matches repo.ErrNotFound.
	ErrRoleNotArchivable = fmt.Errorf("role not found or already archived: %w", repo.ErrNotFound)

	// ErrRoleArchived is returned when a command targets an archived role.
	// Archival is terminal; there is no reactivation.
	ErrRoleArchived = errors.New("role is archived")
)
