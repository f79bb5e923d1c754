package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mlow-diag/elmcore/internal/version"
)

var (
	cfgPort       string
	cfgBaud       int
	cfgEcu        string
	cfgVerbose    bool
	cfgLogFile    string
	cfgYes        bool
	cfgCaptureDB  string
	cfgCaptureTag string
)

var rootCmd = &cobra.Command{
	Use:     "diagctl",
	Short:   "Diagnostic engine CLI for clone ELM327 adapters",
	Version: version.FullVersion(),
	Long: fmt.Sprintf(`%s v%s
%s

Use subcommands for headless operation (ecus, snapshot, dtc, scan, identify, serve).`,
		version.Name, version.Version, version.Description),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPort, "port", "p", "", "Serial port the adapter is attached to (e.g. /dev/ttyUSB0, COM3)")
	rootCmd.PersistentFlags().IntVarP(&cfgBaud, "baud", "b", 38400, "Serial baud rate")
	rootCmd.PersistentFlags().StringVarP(&cfgEcu, "ecu", "e", "ECM", "ECU code to select before issuing a request")
	rootCmd.PersistentFlags().BoolVarP(&cfgVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgLogFile, "log-file", "", "Write log output to file")
	rootCmd.PersistentFlags().BoolVar(&cfgYes, "yes", false, "Skip confirmation prompts")
	rootCmd.PersistentFlags().StringVar(&cfgCaptureDB, "capture-db", "", "Record every adapter exchange to this SQLite file")
	rootCmd.PersistentFlags().StringVar(&cfgCaptureTag, "capture-label", "diagctl session", "Label for the recorded capture session")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level := slog.LevelInfo
	if cfgVerbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if cfgLogFile != "" {
		f, err := os.OpenFile(cfgLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not open log file %s: %v\n", cfgLogFile, err)
		} else {
			w = io.MultiWriter(os.Stderr, f)
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// confirmPrompt asks for y/N confirmation, skipped entirely when --yes is set.
func confirmPrompt(msg string) bool {
	if cfgYes {
		return true
	}
	fmt.Printf("%s (y/N): ", msg)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(strings.ToLower(line))
	return line == "y" || line == "yes"
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
