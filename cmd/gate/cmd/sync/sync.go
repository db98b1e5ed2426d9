package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
	"ticketgate/internal/app/gate"
	"ticketgate/internal/domain/validation"
)

var (
	showStatus    bool
	showConflicts bool
	reviewID      string
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Синхронизировать очередь проходов с авторитетом",
	Long: `Отправляет накопленные проходы авторитету и применяет вердикты.

Примеры:
  gate sync                 # отправить очередь сейчас
  gate sync --status        # состояние устройства
  gate sync --conflicts     # конфликты, требующие разбора
  gate sync --review ID     # отметить конфликт разобранным`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		switch {
		case showStatus:
			return printStatus(cmd, app)
		case showConflicts:
			return printConflicts(cmd, app)
		case reviewID != "":
			return review(cmd, app, reviewID)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		if !app.Probe(ctx) {
			fmt.Println("⚠️  Авторитет недоступен. Проходы останутся в очереди.")
			return printStatus(cmd, app)
		}

		fmt.Println("🔄 Синхронизация...")
		res, err := app.Flush(ctx)
		if err != nil {
			if errors.Is(err, gate.ErrFlushInProgress) {
				fmt.Println("Синхронизация уже выполняется")
				return nil
			}
			return fmt.Errorf("ошибка синхронизации: %w", err)
		}

		printed, err := types.JSON(cmd, res)
		if err != nil || printed {
			return err
		}

		fmt.Printf("✓ Отправлено: %d (пакетов: %d)\n", res.Sent, res.Batches)
		fmt.Printf("✓ Подтверждено: %d\n", res.Synced)
		if res.Conflicts+res.Demoted > 0 {
			color.New(color.FgYellow).Printf("⚠️  Конфликтов: %d. Смотрите: gate sync --conflicts\n",
				res.Conflicts+res.Demoted)
		}
		return nil
	},
}

func printStatus(cmd *cobra.Command, app *gate.App) error {
	st, err := app.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("ошибка получения статуса: %w", err)
	}

	printed, err := types.JSON(cmd, st)
	if err != nil || printed {
		return err
	}

	fmt.Println("=== Статус устройства ===")
	fmt.Printf("Устройство: %s\n", st.DeviceID)
	if st.Connectivity.Online {
		color.New(color.FgGreen).Println("Связь: есть")
	} else {
		color.New(color.FgRed).Println("Связь: нет")
	}
	if !st.Authorized {
		fmt.Println("Вход: не выполнен (gate login)")
	}
	fmt.Printf("Билетов в снимке: %d", st.SnapshotTickets)
	if st.Cursor.OperatingDate != "" {
		fmt.Printf(" на %s", st.Cursor.OperatingDate)
	}
	fmt.Println()
	if st.Cursor.LastRefreshAt != nil {
		fmt.Printf("Снимок обновлен: %s\n", st.Cursor.LastRefreshAt.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Println()
	fmt.Printf("Ожидают отправки: %d\n", st.Records.Pending)
	fmt.Printf("Подтверждены:     %d\n", st.Records.Synced)
	fmt.Printf("Конфликты:        %d (не разобрано: %d)\n", st.Records.Conflict, st.Records.NeedsReview)

	if st.Sync.LastFlush != nil {
		fmt.Printf("Последняя синхронизация: %s\n", st.Sync.LastFlush.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if st.Sync.LastError != "" {
		fmt.Printf("Последняя ошибка: %s (попыток подряд: %d)\n", st.Sync.LastError, st.Sync.Failures)
	}
	return nil
}

func printConflicts(cmd *cobra.Command, app *gate.App) error {
	records, err := app.Records(cmd.Context(), gate.RecordFilter{
		Status:      validation.SyncConflict,
		NeedsReview: true,
	})
	if err != nil {
		return fmt.Errorf("ошибка получения конфликтов: %w", err)
	}

	printed, err := types.JSON(cmd, records)
	if err != nil || printed {
		return err
	}

	if len(records) == 0 {
		fmt.Println("✓ Неразобранных конфликтов нет")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tБИЛЕТ\tПРОХОД\tКОНТРОЛЕР\tПОБЕДИЛ\tКОГДА")
	for _, r := range records {
		when := "-"
		if r.CanonicalValidatedAt != nil {
			when = r.CanonicalValidatedAt.Local().Format("15:04:05")
		}
		code := r.TicketCode
		if code == "" {
			code = r.TicketID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, code, r.ValidatedAt.Local().Format("15:04:05"), r.ValidatorIdentity,
			r.CanonicalDeviceID, when)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nВсего: %d. Разобрать: gate sync --review ID\n", len(records))
	return nil
}

func review(cmd *cobra.Command, app *gate.App, id string) error {
	err := app.MarkReviewed(cmd.Context(), id)
	switch {
	case errors.Is(err, validation.ErrRecordNotFound):
		return fmt.Errorf("запись %s не найдена", id)
	case errors.Is(err, gate.ErrNotConflict):
		return fmt.Errorf("запись %s не является конфликтом", id)
	case err != nil:
		return fmt.Errorf("ошибка: %w", err)
	}
	fmt.Printf("✓ Конфликт %s разобран\n", id)
	return nil
}

func init() {
	SyncCmd.Flags().BoolVar(&showStatus, "status", false, "показать состояние устройства")
	SyncCmd.Flags().BoolVar(&showConflicts, "conflicts", false, "показать неразобранные конфликты")
	SyncCmd.Flags().StringVar(&reviewID, "review", "", "отметить конфликт разобранным")
}
