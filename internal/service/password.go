package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

const argon2ID = "argon2id"

var ErrHashFormat = errors.New("invalid password hash format")

// PasswordHasher genera y verifica hashes argon2id en formato PHC.
type PasswordHasher struct {
	memory      uint32
	time        uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
	dummy       string
}

func NewPasswordHasher() *PasswordHasher {
	h := &PasswordHasher{
		memory:      64 * 1024,
		time:        1,
		parallelism: 2,
		saltLength:  16,
		keyLength:   32,
	}
	// Hash de referencia para igualar tiempos cuando el email no existe.
	h.dummy, _ = h.Hash("dummy-password-for-timing")
	return h
}

// newFastPasswordHasher usa parámetros mínimos; sólo para tests.
func newFastPasswordHasher() *PasswordHasher {
	h := &PasswordHasher{memory: 8 * 1024, time: 1, parallelism: 1, saltLength: 16, keyLength: 32}
	h.dummy, _ = h.Hash("dummy-password-for-timing")
	return h
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.parallelism, h.keyLength)
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		h.memory,
		h.time,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify compara en tiempo constante.
func (h *PasswordHasher) Verify(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return false, ErrHashFormat
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return false, ErrHashFormat
	}
	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrHashFormat
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrHashFormat
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false, ErrHashFormat
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// VerifyDummy consume el mismo tiempo que una verificación real y siempre falla.
func (h *PasswordHasher) VerifyDummy(password string) {
	_, _ = h.Verify(password, h.dummy)
}

// validatePassword exige 8-40 caracteres con minúscula, mayúscula, dígito y símbolo.
func validatePassword(password string) error {
	n := len([]rune(password))
	if n < 8 || n > 40 {
		return fmt.Errorf("%w: password must be between 8 and 40 characters", ErrInvalidInput)
	}
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	var missing []string
	if !digit {
		missing = append(missing, "number")
	}
	if !lower {
		missing = append(missing, "lowercase character")
	}
	if !upper {
		missing = append(missing, "uppercase character")
	}
	if !symbol {
		missing = append(missing, "symbol")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: password must contain at least one %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
