// Package validation holds the small format checks the registry and
// catalog apply before touching disk.
package validation

import (
	"fmt"

	"github.com/leengari/mini-rdbms/internal/errs"
)

// ValidateIdentifier checks a database or table name against spec.md
// §4.11's charset: alphanumeric plus `_-`, non-empty.
func ValidateIdentifier(name string) error {
	if name == "" {
		return errs.New(errs.InvalidCommand, "identifier cannot be empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			continue
		default:
			return errs.New(errs.InvalidCommand, fmt.Sprintf("identifier %q contains invalid character %q", name, r))
		}
	}
	return nil
}
