package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var validate = validator.New()

// ValidateStruct runs the `validate` tags on any input struct. Gin's
// `binding` tags cover handler inputs; this is for inputs assembled in code.
func ValidateStruct(input any) error {
	return validate.Struct(input)
}

// ValidatePhone parses a phone number with the given default region and
// returns its E.164 form. Empty input is allowed (optional fields).
func ValidatePhone(phone string, defaultRegion string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	if defaultRegion == "" {
		defaultRegion = "IN"
	}
	num, err := libphonenumber.Parse(phone, defaultRegion)
	if err != nil {
		return "", errors.New("invalid phone number")
	}
	if !libphonenumber.IsValidNumber(num) {
		return "", errors.New("invalid phone number")
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}
