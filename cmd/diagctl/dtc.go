package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var dtcErase bool

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read and optionally clear diagnostic trouble codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		dtcs, err := sess.Engine.ReadDtcs(ctx)
		if err != nil {
			return fmt.Errorf("read dtcs: %w", err)
		}

		fmt.Println("=== Diagnostic Trouble Codes ===")
		if len(dtcs) == 0 {
			fmt.Println("  No stored faults")
		} else {
			for _, d := range dtcs {
				fmt.Printf("  %s (status 0x%02X): %s\n", d.Code, d.Status, d.Description)
			}
		}

		if dtcErase {
			fmt.Println()
			if !confirmPrompt("Clear all stored DTCs?") {
				fmt.Println("cancelled.")
				return nil
			}
			fmt.Print("Clearing DTCs... ")
			ok, err := sess.Engine.ClearDtcs(ctx)
			if err != nil {
				return fmt.Errorf("clear dtcs: %w", err)
			}
			if ok {
				fmt.Println("done")
			} else {
				fmt.Println("ECU reported failure")
			}
		}

		return nil
	},
}

func init() {
	dtcCmd.Flags().BoolVar(&dtcErase, "clear", false, "Clear DTCs after reading")
	rootCmd.AddCommand(dtcCmd)
}
