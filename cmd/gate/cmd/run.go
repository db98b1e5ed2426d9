package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
	"ticketgate/internal/app/gate/api"
)

var noAPI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Запустить агента на проходе",
	Long: `Запускает агента: монитор связи, фоновую синхронизацию очереди,
периодическое обновление снимка и локальный HTTP API для интерфейса контролера.
Останавливается по SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if noAPI {
			return app.Run(ctx, nil)
		}
		return app.Run(ctx, api.New(app, log))
	},
}

func init() {
	runCmd.Flags().BoolVar(&noAPI, "no-api", false, "не поднимать локальный HTTP API")
}
