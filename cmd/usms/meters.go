package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metersCmd = &cobra.Command{
	Use:   "meters",
	Short: "List the meters registered under the account",
	RunE:  runMeters,
}

func init() {
	rootCmd.AddCommand(metersCmd)
}

func runMeters(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("initializing account: %w", err)
	}

	meters, err := account.Meters()
	if err != nil {
		return err
	}

	fmt.Printf("%-16s %-12s %-10s %-20s\n", "METER", "TYPE", "STATUS", "LAST UPDATE")
	for _, m := range meters {
		info := m.Info()
		fmt.Printf("%-16s %-12s %-10s %-20s\n",
			m.No(), m.Type(), info.Status, info.LastUpdate.Format("2006-01-02 15:04:05"))
	}
	return nil
}
