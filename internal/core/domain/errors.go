package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrRetrievalFailure = errors.New("retrieval failure")
	ErrNoPassages       = errors.New("no passages matched")
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrUnknownModel     = errors.New("unknown model")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
