package device

import (
	"fmt"
	"unicode"
)

const (
	MinIDLen     = 3
	MaxIDLen     = 64
	MinSecretLen = 8
)

// Validator — интерфейс для проверки данных регистрации устройства
type Validator interface {
	ValidateRegister(id, secret string) error
	ValidateID(id string) error
	ValidateSecret(secret string) error
}

type SecretValidator struct {
	requireDigit  bool
	requireLetter bool
}

func NewSecretValidator() *SecretValidator {
	return &SecretValidator{
		requireDigit:  true,
		requireLetter: true,
	}
}

func (v *SecretValidator) ValidateRegister(id, secret string) error {
	if err := v.ValidateID(id); err != nil {
		return fmt.Errorf("device id validation failed: %w", err)
	}

	if err := v.ValidateSecret(secret); err != nil {
		return fmt.Errorf("secret validation failed: %w", err)
	}

	return nil
}

// ValidateID проверяет идентификатор устройства. Он участвует в разрешении
// конфликтов как вторичный ключ сортировки, поэтому допускает только ASCII.
func (v *SecretValidator) ValidateID(id string) error {
	if len(id) < MinIDLen {
		return fmt.Errorf("device id must be at least %d characters", MinIDLen)
	}

	if len(id) > MaxIDLen {
		return fmt.Errorf("device id must be at most %d characters", MaxIDLen)
	}

	for _, r := range id {
		if r > unicode.MaxASCII || (!unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' && r != '.') {
			return fmt.Errorf("device id can only contain latin letters, digits, '_', '-', '.'")
		}
	}

	return nil
}

func (v *SecretValidator) ValidateSecret(secret string) error {
	if len(secret) < MinSecretLen {
		return fmt.Errorf("secret must be at least %d characters", MinSecretLen)
	}

	hasLetter := false
	hasDigit := false
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if v.requireLetter && !hasLetter {
		return fmt.Errorf("secret must contain at least one letter")
	}
	if v.requireDigit && !hasDigit {
		return fmt.Errorf("secret must contain at least one digit")
	}

	return nil
}
