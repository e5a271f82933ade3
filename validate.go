package goRecover

import (
	"strconv"
	"strings"
)

// Field names carried by ValidationError.
const (
	FieldEmail    = "email"
	FieldCode     = "code"
	FieldPassword = "password"
	FieldConfirm  = "confirm"
)

// ValidateEmail applies the client-side email check: non-empty and
// containing '@'. The server remains the authority on deliverability.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return &ValidationError{Field: FieldEmail, Reason: "email is required"}
	}
	if !strings.Contains(email, "@") {
		return &ValidationError{Field: FieldEmail, Reason: "enter a valid email address"}
	}
	return nil
}

// ValidateCode reports whether code is exactly digits ASCII digits.
func ValidateCode(code string, digits int) error {
	if len(code) != digits {
		return &ValidationError{Field: FieldCode, Reason: "code must be " + strconv.Itoa(digits) + " digits"}
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return &ValidationError{Field: FieldCode, Reason: "code must contain digits only"}
		}
	}
	return nil
}

// ValidateNewPassword checks a new password and its confirmation.
func ValidateNewPassword(password, confirm string, minLength int) error {
	if password == "" {
		return &ValidationError{Field: FieldPassword, Reason: "password is required"}
	}
	if confirm == "" {
		return &ValidationError{Field: FieldConfirm, Reason: "confirm your password"}
	}
	if len(password) < minLength {
		return &ValidationError{Field: FieldPassword, Reason: "password must be at least " + strconv.Itoa(minLength) + " characters"}
	}
	if password != confirm {
		return &ValidationError{Field: FieldConfirm, Reason: "passwords do not match"}
	}
	return nil
}
