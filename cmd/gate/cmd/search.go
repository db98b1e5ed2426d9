package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ticketgate/cmd/gate/cmd/types"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Найти билет по имени владельца или коду",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := types.App(cmd)
		if err != nil {
			return err
		}

		found := app.Search(strings.Join(args, " "), searchLimit)

		printed, err := types.JSON(cmd, found)
		if err != nil || printed {
			return err
		}

		if len(found) == 0 {
			fmt.Println("Ничего не найдено")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "КОД\tВЛАДЕЛЕЦ\tТИП\tСТАТУС")
		for _, t := range found {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Code, t.OwnerName, t.TicketTypeName, t.Status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Printf("\nНайдено: %d. Для прохода: gate validate --manual КОД\n", len(found))
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "максимум результатов")
}
