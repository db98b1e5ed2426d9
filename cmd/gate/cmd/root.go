package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"ticketgate/cmd/gate/cmd/device"
	"ticketgate/cmd/gate/cmd/sync"
	"ticketgate/cmd/gate/cmd/types"
	"ticketgate/internal/app/gate"
	"ticketgate/internal/app/gate/config"
	"ticketgate/internal/utils/logger"
)

var (
	cfgFile   string
	authority string
	debug     bool
	log       *slog.Logger
	current   *gate.App
)

var rootCmd = &cobra.Command{
	Use:   "gate",
	Short: "Ticketgate — проверка билетов на входе",
	Long: `Агент контролера: проверяет билеты по локальному снимку без сети,
копит принятые проходы в очереди и синхронизирует их с авторитетом,
когда связь есть.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	err := rootCmd.Execute()
	// PostRun не вызывается, если RunE вернул ошибку.
	if current != nil {
		if cerr := current.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		if errors.Is(err, types.ErrRejected) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}
	if authority != "" {
		cfg.AuthorityAddress = authority
	}
	level := cfg.LogLevel
	if debug {
		level = "debug"
	}
	log = logger.NewWithLevel(cfg.Env, level)

	app, err := gate.New(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	current = app
	cmd.SetContext(context.WithValue(cmd.Context(), types.AppKey, app))
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML-файл конфигурации")
	rootCmd.PersistentFlags().StringVar(&authority, "authority", "", "адрес авторитета (host:port или URL)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "подробный лог")
	rootCmd.PersistentFlags().Bool("json", false, "вывод в формате JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(device.EnrollCmd)
	rootCmd.AddCommand(device.LoginCmd)
	rootCmd.AddCommand(device.LogoutCmd)
	rootCmd.AddCommand(sync.SyncCmd)
}
