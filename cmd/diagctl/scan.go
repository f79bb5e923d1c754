package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Probe DID groups 0xD0-0xDF and report which answered",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		results, err := sess.Engine.ScanDidGroups(ctx)
		if err != nil {
			return fmt.Errorf("scan did groups: %w", err)
		}

		for _, r := range results {
			status := "no reply"
			if r.Active {
				status = "active"
			}
			fmt.Printf("  0x%02X00: %s\n", r.Group, status)
		}
		return nil
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify",
	Short: "Read the selected ECU's part/calibration/hardware identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		ident := sess.Engine.IdentifyEcu(ctx)
		fmt.Printf("Part number:     %s\n", ident.PartNumber)
		fmt.Printf("Calibration:     %s\n", ident.Calibration)
		fmt.Printf("Hardware number: %s\n", ident.HardwareNumber)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(identifyCmd)
}
