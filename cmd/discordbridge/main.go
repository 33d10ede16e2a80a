package main

import (
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "discordbridge",
	Short:         "discordbridge connects a server process to a Discord bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	cobra.CheckErr(clay.InitGlazed("discordbridge", rootCmd))

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	rootCmd.AddCommand(newServeCommand())
	commandsCmd, err := newCommandsCommand()
	cobra.CheckErr(err)
	rootCmd.AddCommand(commandsCmd)
	eventsCmd, err := newEventsCommand()
	cobra.CheckErr(err)
	rootCmd.AddCommand(eventsCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("discordbridge failed")
		os.Exit(1)
	}
}
