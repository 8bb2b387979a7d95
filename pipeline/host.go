package pipeline

import (
	"context"
	"time"
)

// Form is the host's description of a form.
type Form struct {
	ID   int
	Type FormType
	Name string
}

// Entry is one stored submission. Fields holds the host's raw values.
type Entry struct {
	ID      int
	Created time.Time
	Fields  map[string]any
}

// RowMapper turns the entries of one form into table rows.
type RowMapper interface {
	Headers() []string
	// Rows returns the rows for one entry. An entry may produce no rows or
	// several (one per quiz answer, for example).
	Rows(e Entry) [][]any
}

// Host is the entry storage an export reads from.
type Host interface {
	// Form returns the form with id, or an error wrapping ErrFormNotFound.
	Form(ctx context.Context, id int) (*Form, error)
	// Entries returns the form's entries, narrowed by filters when non-nil.
	Entries(ctx context.Context, form *Form, filters *Filters) ([]Entry, error)
	// Mapper returns the row mapping for form exported as t, or an error
	// wrapping ErrUnsupportedFormType.
	Mapper(form *Form, t FormType) (RowMapper, error)
}

// Authorizer decides whether the caller may export.
type Authorizer interface {
	CanExport(ctx context.Context) bool
	VerifyNonce(ctx context.Context, nonce string) bool
}

type callerKey struct{}

// WithCaller returns a context carrying the caller's export capability.
func WithCaller(ctx context.Context, canExport bool) context.Context {
	return context.WithValue(ctx, callerKey{}, canExport)
}

// CallerCanExport reports the capability stored by WithCaller.
func CallerCanExport(ctx context.Context) bool {
	ok, _ := ctx.Value(callerKey{}).(bool)
	return ok
}

// NonceAuthorizer checks the capability stored in the context and verifies
// nonces issued by Signer.
type NonceAuthorizer struct {
	Signer *Signer
}

func (a NonceAuthorizer) CanExport(ctx context.Context) bool {
	return CallerCanExport(ctx)
}

func (a NonceAuthorizer) VerifyNonce(_ context.Context, nonce string) bool {
	return a.Signer != nil && a.Signer.VerifyNonce(nonce) == nil
}
