package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quizgen_service",
	Short: "Quiz generation service for AI-assisted quiz authoring",
	Long: `A service that runs AI-assisted quiz generation workflows, records
every step as an event stream, and exposes an API over the generated quizzes
and their read models.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
