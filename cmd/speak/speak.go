package speak

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/gordon-go/internal/app"
	"github.com/tphakala/gordon-go/internal/conf"
)

// Command creates the speak command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "speak <text>",
		Short: "Speak a line through the configured narrator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			narrator, err := app.NewNarrator(settings)
			if err != nil {
				return err
			}
			defer narrator.Close()
			return narrator.Speak(cmd.Context(), strings.Join(args, " "))
		},
	}
}
