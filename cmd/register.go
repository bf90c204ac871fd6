package cmd

import (
	"fmt"
	"log"

	"github.com/RedRozio/moris-slave/morisslave"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register-commands",
	Short: "Register the bot's slash commands with Discord",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		bot, err := morisslave.New(cfg)
		if err != nil {
			log.Fatalf("error creating bot: %s", err.Error())
		}

		commands, err := bot.RegisterSlashCommands()
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}

		out := cmd.OutOrStdout()
		for _, c := range commands {
			fmt.Fprintf(out, "registered: /%s (%s)\n", c.Name, c.ID)
		}
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
}
