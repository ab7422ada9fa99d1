// Command wvnc bridges a Wayland compositor's screen and input to a VNC
// client over RFB, using wlr-screencopy for capture and a synthetic
// virtual keyboard/uinput pointer for input.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"wvnc.dev/wvnc/internal/engine"
	"wvnc.dev/wvnc/internal/logging"
)

// version is stamped at build time; left as a placeholder here since this
// tree has no release tooling of its own.
var version = "dev"

var (
	outputName string
	bindAddr   string
	port       int
	period     time.Duration
	noUinput   bool
	logLevel   string
	showVer    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wvnc",
		Short: "Wayland-compositor-to-RFB bridge",
		Long: `wvnc mirrors one output of a wlr-screencopy-capable Wayland compositor to
a VNC client, and forwards the client's keyboard and pointer input back
through a synthesized virtual keyboard and uinput device.`,
		RunE: run,
	}

	rootCmd.Flags().StringVarP(&outputName, "output", "o", "", "Output to mirror (required when the compositor has more than one output)")
	rootCmd.Flags().StringVarP(&bindAddr, "bind", "b", "127.0.0.1", "Address to bind the RFB listener to")
	rootCmd.Flags().IntVarP(&port, "port", "p", 5100, "RFB listen port")
	rootCmd.Flags().DurationVarP(&period, "period", "t", 30*time.Millisecond, "Minimum interval between captures")
	rootCmd.Flags().BoolVarP(&noUinput, "no-uinput", "U", false, "Disable the synthetic uinput pointer device")
	rootCmd.Flags().StringVarP(&logLevel, "verbose", "v", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVarP(&showVer, "version", "V", false, "Print version and exit")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("wvnc exited with an error")
	}
}

func run(cmd *cobra.Command, args []string) error {
	if showVer {
		cmd.Println("wvnc " + version)
		return nil
	}

	logger := logging.New(logLevel)

	// zwp_virtual_keyboard_v1 and uinput both expect a stable calling
	// thread; the compositor connection and device fds are all opened
	// from main, so pin it for the process's lifetime.
	runtime.LockOSThread()

	cfg := engine.Config{
		OutputName: outputName,
		Bind:       bindAddr,
		Port:       port,
		Period:     period,
		NoUinput:   noUinput,
	}

	loop, err := engine.New(logger, cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	logger.Info().Str("bind", bindAddr).Int("port", port).Msg("rfb listener ready")

	runErr := loop.Run(ctx)
	if closeErr := loop.Close(); closeErr != nil {
		logger.Error().Err(closeErr).Msg("error during shutdown")
	}
	return runErr
}
