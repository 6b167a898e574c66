package types

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks a request-creation body before it is sent.
func (in CreateRequestInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// IsValidID reports whether id is a plausible server-assigned identifier,
// safe to embed in a URL path or a room name.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}
