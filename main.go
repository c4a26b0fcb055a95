package main

import (
	"fmt"
	"log"
	"os"

	"storefront-svc/catalog"
	"storefront-svc/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Loop storefront: checkout, payment notifications and download delivery",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file instead of .env")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile)
		},
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog maintenance commands",
	}
	catalogCmd.AddCommand(newValidateCmd())

	root.AddCommand(serve, catalogCmd)
	return root
}

func newValidateCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Check a catalog file and print what it would serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := catalog.Load(args[0], baseURL)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, category := range snap.Categories() {
				fmt.Fprintf(out, "%-20s %3d loops  %6.2f EUR each\n", category.ID, len(category.Loops), category.PriceEUR)
			}
			fmt.Fprintf(out, "%d loops in %d categories\n", snap.Len(), len(snap.Categories()))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "storage base URL used to build download links")
	return cmd
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

func loadConfig(envFile string) (*config.Config, error) {
	if envFile != "" {
		return config.Load(envFile)
	}
	return config.Load()
}
