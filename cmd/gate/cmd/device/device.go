package device

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// readSecret читает секрет без эха. Если stdin не терминал, берет строку как есть.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		var s string
		if _, err := fmt.Fscanln(os.Stdin, &s); err != nil {
			return "", fmt.Errorf("ошибка чтения секрета: %w", err)
		}
		return strings.TrimSpace(s), nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("ошибка чтения секрета: %w", err)
	}
	return string(secret), nil
}
