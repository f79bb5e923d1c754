package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var ecusCmd = &cobra.Command{
	Use:   "ecus",
	Short: "Connect and list the ECUs detected during bus probing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tNAME\tTX\tRX")
		fmt.Fprintln(w, "----\t----\t--\t--")
		for _, e := range sess.Engine.DetectedEcus() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Code, e.Name, e.Tx, e.Rx)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(ecusCmd)
}
