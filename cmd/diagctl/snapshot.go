package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Read the engine-speed and DPF snapshot from the selected ECU",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		engineSnap, err := sess.Engine.ReadEngineSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("read engine snapshot: %w", err)
		}
		dpfSnap, err := sess.Engine.ReadDpfSnapshot(ctx)
		if err != nil {
			return fmt.Errorf("read dpf snapshot: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FIELD\tVALUE")
		fmt.Fprintln(w, "-----\t-----")
		fmt.Fprintf(w, "Engine speed\t%s\n", engineSnap.EngineSpeed.Formatted)
		fmt.Fprintf(w, "Soot loading\t%s\n", dpfSnap.SootLoading.Formatted)
		fmt.Fprintf(w, "Regeneration\t%s\n", dpfSnap.RegenerationText)
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
