package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
	"ticketgate/internal/app/gate"
	"ticketgate/internal/domain/validation"
)

const flushAfterValidate = 5 * time.Second

var (
	manual    bool
	validator string
	noSync    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate CODE",
	Short: "Проверить билет по коду",
	Long: `Проверяет билет по локальному снимку. Сеть не нужна: принятый проход
записывается в очередь и уходит авторитету при первой возможности.

Код завершения: 0 — проход разрешен, 2 — отказ, 1 — ошибка.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		method := validation.MethodScan
		if manual {
			method = validation.MethodManual
		}
		who := validator
		if who == "" {
			who = app.Config().Validator
		}

		outcome, err := app.Validate(cmd.Context(), args[0], who, method)
		if err != nil {
			return fmt.Errorf("ошибка проверки: %w", err)
		}

		if outcome.Accepted && !noSync {
			syncNow(cmd.Context(), app)
		}

		printed, err := types.JSON(cmd, outcome)
		if err != nil {
			return err
		}
		if !printed {
			printOutcome(outcome)
		}

		if !outcome.Accepted {
			return types.ErrRejected
		}
		return nil
	},
}

// syncNow пробует сразу отправить очередь. Неудача не мешает проходу.
func syncNow(ctx context.Context, app *gate.App) {
	ctx, cancel := context.WithTimeout(ctx, flushAfterValidate)
	defer cancel()

	if !app.Probe(ctx) {
		return
	}
	if _, err := app.Flush(ctx); err != nil {
		log.Debug("flush after validate failed", "error", err)
	}
}

func printOutcome(o gate.Outcome) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)

	if o.Accepted {
		ok.Println("✅ ПРОХОД РАЗРЕШЕН")
	} else {
		bad.Println("⛔ ОТКАЗ")
	}

	if o.Ticket != nil {
		fmt.Printf("   Билет:   %s\n", o.Ticket.Code)
		fmt.Printf("   Владелец: %s\n", o.Ticket.OwnerName)
		if o.Ticket.TicketTypeName != "" {
			fmt.Printf("   Тип:     %s\n", o.Ticket.TicketTypeName)
		}
	} else {
		fmt.Printf("   Код:     %s\n", o.Code)
	}

	if o.Accepted {
		return
	}
	switch {
	case o.Reason == validation.ReasonUnknownTicket:
		fmt.Println("   Билет не найден в списке на сегодня")
	case o.UsedElsewhere:
		fmt.Println("   Билет уже использован на другом устройстве")
	case o.PreviousValidatedAt != nil:
		fmt.Printf("   Уже прошел в %s (%s)\n",
			o.PreviousValidatedAt.Local().Format("15:04:05"), o.PreviousValidator)
	default:
		fmt.Printf("   %s\n", o.Message)
	}
}

func init() {
	validateCmd.Flags().BoolVar(&manual, "manual", false, "код введен вручную")
	validateCmd.Flags().StringVar(&validator, "validator", "", "имя контролера (по умолчанию из конфигурации)")
	validateCmd.Flags().BoolVar(&noSync, "no-sync", false, "не синхронизировать сразу после прохода")
}
