package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatlinehq/chatline/internal/config"
	"github.com/chatlinehq/chatline/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:   "chatline",
		Short: "Chatline conversation orchestration server",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the Chatline server",
		Run: func(*cobra.Command, []string) {
			runServe()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
