package receipt

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("receipt not found")
	ErrDuplicateTransaction = errors.New("receipt with this transaction id already exists")
	ErrSchemaValidation     = errors.New("receipt data validation failed")
	ErrUnsupportedMedia     = errors.New("unsupported file type")

	// ErrPersist means nothing was saved.
	ErrPersist = errors.New("saving receipt failed")
	// ErrIndexing means the receipt was saved but is not searchable.
	ErrIndexing = errors.New("indexing receipt failed")
)

// ValidationError lists every schema violation, each prefixed with the
// JSON pointer of the offending value.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSchemaValidation, strings.Join(e.Messages, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

// IndexError reports a dual write that stopped after the store save.
type IndexError struct {
	ID  string
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%v for %s: %v", ErrIndexing, e.ID, e.Err)
}

func (e *IndexError) Is(target error) bool {
	return target == ErrIndexing
}

func (e *IndexError) Unwrap() error {
	return e.Err
}
