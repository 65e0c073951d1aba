package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifica la plantilla de correo a enviar.
type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindPasswordReset Kind = "password_reset"
	KindTwoFactorCode Kind = "two_factor_code"
)

// Payload son los datos variables de un correo.
type Payload struct {
	Name      string
	Link      string
	Code      string
	ExpiresAt time.Time
}

// Sender define la interfaz para envio de correos transaccionales.
type Sender interface {
	Send(ctx context.Context, to string, kind Kind, payload Payload) error
}

var ErrUnknownKind = errors.New("unknown email kind")

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _ string, _ Kind, _ Payload) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// render arma asunto y cuerpo en texto plano para cada tipo de correo.
func render(kind Kind, p Payload) (string, string, error) {
	greeting := "Hello"
	if strings.TrimSpace(p.Name) != "" {
		greeting = "Hello " + p.Name
	}
	expires := ""
	if !p.ExpiresAt.IsZero() {
		expires = fmt.Sprintf("It expires at %s UTC.\n", p.ExpiresAt.UTC().Format(time.RFC3339))
	}
	switch kind {
	case KindConfirmation:
		return "Confirm your email",
			fmt.Sprintf("%s,\n\nConfirm your email address by opening the link below:\n%s\n%s", greeting, p.Link, expires), nil
	case KindPasswordReset:
		return "Reset your password",
			fmt.Sprintf("%s,\n\nUse the link below to choose a new password:\n%s\n%sIf you did not ask for this, ignore this email.\n", greeting, p.Link, expires), nil
	case KindTwoFactorCode:
		return "Your sign-in code",
			fmt.Sprintf("%s,\n\nYour sign-in code is %s.\n%s", greeting, p.Code, expires), nil
	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}
