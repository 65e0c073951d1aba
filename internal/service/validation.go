package service

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validateEmail espera un email ya normalizado.
func validateEmail(email string) error {
	n := utf8.RuneCountInString(email)
	if n < 5 || n > 200 {
		return fmt.Errorf("%w: email must be between 5 and 200 characters", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

func validateDisplayName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 1 || n > 50 {
		return fmt.Errorf("%w: name must be between 1 and 50 characters", ErrInvalidInput)
	}
	return nil
}
