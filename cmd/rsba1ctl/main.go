// Command rsba1ctl connects to a single ICOM RS-BA1-protocol radio,
// drives it through the control session's handshake/login/auth
// sequence, and prints lifecycle events until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rsba1/internal/client"
	"rsba1/internal/config"
	"rsba1/internal/logging"
	"rsba1/internal/session"
	"rsba1/internal/statuswatch"
)

const version = "0.1.0"

var (
	flagAddress     string
	flagUsername    string
	flagPassword    string
	flagVerbose     bool
	flagQuiet       bool
	flagProfile     string
	flagProfileName string
	flagStatusWatch string
)

func main() {
	cmd := newCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "rsba1ctl",
		Short:             "Connect to an ICOM RS-BA1-protocol radio",
		Version:           version,
		RunE:              runRoot,
		SilenceErrors:     true,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	cmd.PersistentFlags().StringVar(&flagAddress, "address", "n4ldr.ddns.net", "radio hostname or IP address")
	cmd.PersistentFlags().StringVar(&flagUsername, "username", "admin", "login username")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "adminadmin", "login password")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "enable debug-level logging")
	cmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "only log warnings and errors")
	cmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "path to a YAML file of named radio profiles")
	cmd.PersistentFlags().StringVar(&flagProfileName, "profile-name", "", "which profile to use from --profile (defaults to the file's default, or its only entry)")
	cmd.PersistentFlags().StringVar(&flagStatusWatch, "status-watch", "", "bind address for a read-only websocket status feed (e.g. 127.0.0.1:8923); empty disables it")
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	level := logging.Info
	if flagVerbose {
		level = logging.Debug
	} else if flagQuiet {
		level = logging.Warn
	}
	log, err := logging.New("rsba1ctl", level, "")
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Close()

	opts, err := resolveOptions(log)
	if err != nil {
		return err
	}

	log.Info("connecting", logging.Fields{"address": opts.Address, "username": opts.Username})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := client.New(opts, log)
	if err := c.Connect(ctx); err != nil {
		// Connect already tears down whatever it managed to bring up before
		// failing; Close here is a harmless no-op in that case, not a second
		// teardown pass.
		c.Close()
		return fmt.Errorf("connect: %w", err)
	}

	var watch *statuswatch.Server
	if flagStatusWatch != "" {
		watch = statuswatch.New(flagStatusWatch, log.With("statuswatch"))
		go func() {
			if err := watch.Start(ctx); err != nil {
				log.Warn("status feed stopped", logging.Fields{"error": err.Error()})
			}
		}()
		defer watch.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Single consumer of c.Events(): that channel must not be drained by
	// more than one reader, so the status-watch feed is fed here rather
	// than reading the channel itself.
	go logEvents(log, c.Events(), watch)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", logging.Fields{"signal": sig.String()})
	case <-ctx.Done():
	}

	if err := c.Close(); err != nil {
		log.Warn("error during shutdown", logging.Fields{"error": err.Error()})
	}
	log.Info("shutdown complete", nil)
	return nil
}

func resolveOptions(log *logging.Logger) (client.Options, error) {
	opts := client.Options{Address: flagAddress, Username: flagUsername, Password: flagPassword}
	if flagProfile == "" {
		return opts, nil
	}

	f, err := config.Load(flagProfile)
	if err != nil {
		return opts, fmt.Errorf("profile file: %w", err)
	}
	p, err := f.Resolve(flagProfileName)
	if err != nil {
		return opts, fmt.Errorf("profile file: %w", err)
	}
	merged := p.Merge(cliOverrideOrEmpty(flagAddress, "n4ldr.ddns.net"),
		cliOverrideOrEmpty(flagUsername, "admin"),
		cliOverrideOrEmpty(flagPassword, "adminadmin"))
	log.Debug("resolved profile", logging.Fields{"address": merged.Address, "username": merged.Username})
	return client.Options{Address: merged.Address, Username: merged.Username, Password: merged.Password, DeviceName: merged.DeviceName}, nil
}

// cliOverrideOrEmpty treats a flag value equal to its own default as "not
// explicitly set", so the profile file's value applies. This coarse
// check cannot tell an explicitly passed flag that happens to equal the
// default from an unset one, so such a flag also yields to the profile —
// acceptable since profiles exist precisely to avoid retyping the
// defaults in the first place.
func cliOverrideOrEmpty(value, def string) string {
	if value == def {
		return ""
	}
	return value
}

func logEvents(log *logging.Logger, events <-chan session.Event, watch *statuswatch.Server) {
	for e := range events {
		switch e.Kind {
		case session.EventStateChanged:
			log.Info("state changed", logging.Fields{"state": e.State.String(), "device": e.DeviceName})
		case session.EventStatusTick:
			log.Info("status", logging.Fields{"uptime_s": e.Uptime, "latency_ms": e.LatencyMS})
		case session.EventError:
			if e.Err != nil {
				log.Warn("session error", logging.Fields{"error": e.Err.Error()})
			}
		}
		if watch != nil {
			watch.Publish(e)
		}
	}
}
