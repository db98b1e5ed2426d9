package device

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
)

var LoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Войти секретом устройства",
	Long: `Получает новый токен у авторитета. Нужен, когда срок токена истек
или токен был удален командой logout.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		secret, err := readSecret("Секрет устройства: ")
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := app.Login(ctx, secret); err != nil {
			return fmt.Errorf("ошибка входа: %w", err)
		}
		fmt.Println("✓ Вход выполнен")
		return nil
	},
}

var LogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Удалить сохраненный токен",
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if err := app.ClearToken(); err != nil {
			return fmt.Errorf("ошибка удаления токена: %w", err)
		}
		fmt.Println("✓ Токен удален. Проверка билетов продолжит работать по снимку.")
		return nil
	},
}
