package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soundbysound/apigateway/internal/api"
	"github.com/soundbysound/apigateway/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "apigateway",
	Short: "OpenAI-compatible gateway for speech learning apps",
	Long:  "Sound by Sound Slowly API Service: issues client API keys and forwards chat requests to a single upstream provider.",
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "配置文件路径")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", api.ServiceName, api.Version)
		},
	})

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
			}
			if err := config.Save(configPath, config.Default()); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
}
