package cmd

import (
	"log"

	"Bt2Deck/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Bt2Deck HTTP/WebSocket server",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting Bt2Deck server...")
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
