package device

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
)

const minSecretLen = 8

var enrollmentKey string

var EnrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Зарегистрировать устройство у авторитета",
	Long: `Регистрирует устройство по ключу, выданному организатором, и сразу
выполняет вход. Идентификатор устройства берется из device_id конфигурации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		cfg := app.Config()

		fmt.Println("=== Регистрация устройства ===")
		fmt.Printf("Устройство: %s (%s)\n\n", cfg.DeviceID, cfg.DeviceName)

		key := enrollmentKey
		if key == "" {
			if key, err = readSecret("Ключ регистрации: "); err != nil {
				return err
			}
		}
		secret, err := readSecret("Секрет устройства: ")
		if err != nil {
			return err
		}
		if len(secret) < minSecretLen {
			return fmt.Errorf("секрет должен быть не короче %d символов", minSecretLen)
		}
		confirm, err := readSecret("Повторите секрет: ")
		if err != nil {
			return err
		}
		if confirm != secret {
			return fmt.Errorf("секреты не совпадают")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Enroll(ctx, key, secret); err != nil {
			return fmt.Errorf("ошибка регистрации: %w", err)
		}

		fmt.Println("✓ Устройство зарегистрировано")
		fmt.Println("✓ Вход выполнен, токен сохранен")
		fmt.Println()
		fmt.Println("Следующий шаг: gate refresh")
		return nil
	},
}

func init() {
	EnrollCmd.Flags().StringVar(&enrollmentKey, "key", "", "ключ регистрации (если не задан, будет запрошен)")
}
