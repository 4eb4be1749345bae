package cmd

import (
	"fmt"
	"log"
	"os"

	"Bt2Deck/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "2deck_server",
	Short: "Bt2Deck is a dual-deck DJ synchronization engine.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting Bt2Deck server...")
		// server.Start handles its own port and startup logging.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
