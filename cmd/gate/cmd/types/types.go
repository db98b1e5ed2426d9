package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ticketgate/internal/app/gate"
)

type contextKey string

// AppKey — ключ агента в контексте команды.
const AppKey contextKey = "gate_app"

// ErrRejected — билет не пропущен. Команда завершается с кодом 2 без текста ошибки.
var ErrRejected = errors.New("ticket rejected")

// App достает агента, созданного в PersistentPreRunE корневой команды.
func App(cmd *cobra.Command) (*gate.App, error) {
	app, ok := cmd.Context().Value(AppKey).(*gate.App)
	if !ok || app == nil {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

// JSON печатает v с отступами, если включен флаг --json.
func JSON(cmd *cobra.Command, v any) (bool, error) {
	asJSON, _ := cmd.Flags().GetBool("json")
	if !asJSON {
		return false, nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}
