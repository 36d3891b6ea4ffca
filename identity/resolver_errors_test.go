package identity

import (
	"errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestIdentityNotFoundError_Envelope(t *testing.T) {
	cause := errors.New("directory offline")
	err := identityNotFound("vault", cause)

	if !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected sentinel match")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive unwrap")
	}

	var notFound *IdentityNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected typed error")
	}
	rich := notFound.ToProtectError()
	if rich.Category != goerrors.CategoryNotFound {
		t.Fatalf("expected not-found category, got %v", rich.Category)
	}
	if rich.Code != http.StatusNotFound {
		t.Fatalf("expected 404 code, got %d", rich.Code)
	}
	if rich.TextCode != ProtectErrorIdentityNotFound {
		t.Fatalf("expected text code %q, got %q", ProtectErrorIdentityNotFound, rich.TextCode)
	}
}
