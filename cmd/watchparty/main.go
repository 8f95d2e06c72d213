package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "watchparty",
	Short:        "Watch videos in sync with a room",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newJoinCmd(), newBrokerCmd())
}

func printConfig(cfg any) {
	jsonConfig, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Fprintf(os.Stderr, "starting with config: %s\n", jsonConfig)
}

func main() {
	// a missing .env is fine, the environment and flags still apply
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
