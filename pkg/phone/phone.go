// Package phone normalizes dialable numbers to E.164.
package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	apperrors "github.com/acme/outbound-call-queue/pkg/errors"
)

// DefaultRegion is used for numbers written without an international prefix.
const DefaultRegion = "US"

// Normalize parses raw and returns its E.164 form. An empty region falls back to DefaultRegion.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: phone number is required", apperrors.ErrValidation)
	}
	if region == "" {
		region = DefaultRegion
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: parse phone %q: %v", apperrors.ErrValidation, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: phone %q is not a valid number", apperrors.ErrValidation, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// Valid reports whether raw can be normalized.
func Valid(raw, region string) bool {
	_, err := Normalize(raw, region)
	return err == nil
}
