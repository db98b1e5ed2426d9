package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
)

var refreshDate string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Загрузить свежий снимок билетов",
	Long: `Загружает билеты на операционную дату с авторитета. Билеты, уже
использованные на этом устройстве, остаются использованными.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}
		if refreshDate != "" {
			if _, err := time.Parse(time.DateOnly, refreshDate); err != nil {
				return fmt.Errorf("дата должна быть в формате ГГГГ-ММ-ДД: %w", err)
			}
		}

		fmt.Println("🔄 Загрузка билетов...")
		res, err := app.Refresh(cmd.Context(), refreshDate)
		if err != nil {
			return fmt.Errorf("ошибка загрузки: %w", err)
		}

		printed, err := types.JSON(cmd, res)
		if err != nil || printed {
			return err
		}

		fmt.Printf("✓ Дата: %s\n", res.OperatingDate)
		fmt.Printf("✓ Билетов: %d\n", res.Tickets)
		if res.Preserved > 0 {
			fmt.Printf("⚠️  Использованы локально и еще не подтверждены: %d\n", res.Preserved)
		}
		return nil
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshDate, "date", "", "операционная дата ГГГГ-ММ-ДД (по умолчанию сегодня)")
}
