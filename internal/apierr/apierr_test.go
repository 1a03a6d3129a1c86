package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestInvalid(t *testing.T) {
	err := Invalid("limit must be positive, got %d", -1)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("errors.Is(ErrInvalidInput) = false for %v", err)
	}
	if StatusOf(err) != http.StatusBadRequest {
		t.Errorf("StatusOf = %d, want 400", StatusOf(err))
	}
	if CodeOf(err) != CodeInvalidInput {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeInvalidInput)
	}
}

func TestPersistenceWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("record turn: %w", Persistence("apply", cause))

	if !errors.Is(err, ErrPersistence) {
		t.Error("expected ErrPersistence in chain")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause in chain")
	}
	if StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("StatusOf = %d, want 500", StatusOf(err))
	}
	if CodeOf(err) != CodePersistence {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodePersistence)
	}
}

func TestUnavailable(t *testing.T) {
	err := Unavailable()
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Error("expected ErrBackendUnavailable")
	}
	if StatusOf(err) != http.StatusServiceUnavailable {
		t.Errorf("StatusOf = %d, want 503", StatusOf(err))
	}
}

func TestPlainError(t *testing.T) {
	err := errors.New("boom")
	if StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("StatusOf = %d, want 500", StatusOf(err))
	}
	if CodeOf(err) != CodeInternal {
		t.Errorf("CodeOf = %q, want %q", CodeOf(err), CodeInternal)
	}
	var nilErr *Error
	if nilErr.Error() != "" {
		t.Error("nil *Error should render empty")
	}
}
