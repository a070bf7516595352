// FlowForge client CLI: brings one VPN session up from a JSON config and
// keeps it running until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowforge/flowforge/internal/client"
	"github.com/flowforge/flowforge/internal/config"
	"github.com/flowforge/flowforge/internal/logger"
)

func main() {
	code, err := execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func execute() (int, error) {
	var logDir string
	code := 0

	root := &cobra.Command{
		Use:           "flowforge <config.json>",
		Short:         "Split-tunnel VPN client",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := run(args[0], logDir)
			code = rc
			return err
		},
	}
	root.Flags().StringVar(&logDir, "log-dir", "logs", "directory for the log file")

	if err := root.Execute(); err != nil {
		return 1, err
	}
	return code, nil
}

// run brings a session up and waits until the plugin's serve loop ends,
// whether through a signal or on its own. The session inherits the
// plugin's exit code.
func run(configPath, logDir string) (int, error) {
	if err := logger.Init(logDir); err != nil {
		return 1, fmt.Errorf("cannot initialize logging: %w", err)
	}
	defer logger.Close()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return 1, fmt.Errorf("cannot open config: %w", err)
	}
	data = config.StripBOM(data)

	// Validate up front so a broken config fails before anything is
	// mutated.
	if _, err := config.Parse(data); err != nil {
		return 1, err
	}

	session := client.Default()
	if rc := session.Start(string(data)); rc != client.StatusOK {
		return 1, fmt.Errorf("session already running (rc=%d)", rc)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("client", "signal %v, stopping", sig)
		session.Stop()
		<-session.Done()
	case <-session.Done():
	}

	return session.ExitCode(), nil
}
