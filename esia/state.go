package esia

import (
	"io"

	"github.com/google/uuid"

	"esiaclient/errors"
)

// NewState returns a random UUID v4 read from r.
func NewState(r io.Reader) (string, error) {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return "", errors.NewRandomGenerationFailure(err)
	}
	return id.String(), nil
}
