package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify the configured credentials against the portal",
	Long: `Performs a full login with the credentials from the config file and
reports whether the portal accepted them. No data is fetched.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	account, err := buildAccount(cfg)
	if err != nil {
		return err
	}
	defer account.Close()

	if err := account.Initialize(cmd.Context()); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	info, err := account.Info()
	if err != nil {
		return err
	}

	fmt.Printf("✓ Logged in as %s (%s)\n", info.Name, info.RegNo)
	return nil
}
