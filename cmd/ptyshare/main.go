// Command ptyshare spawns a command behind a PTY and serves it to any
// number of websocket viewers, optionally permitting them to type back
// into it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ptyshare/internal/banner"
	"ptyshare/internal/cliconfig"
	"ptyshare/internal/httpserver"
	"ptyshare/internal/plog"
	"ptyshare/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen   string
		command  string
		args     string
		readOnly bool
		headless bool
		uid      string
		title    string
		logLevel string
		logFile  string
	)

	cmd := &cobra.Command{
		Use:   "ptyshare",
		Short: "Share a terminal session with any number of websocket viewers",
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			cfg, err := cliconfig.Resolve(cliconfig.Flags{
				Listen:   listen,
				Command:  command,
				Args:     splitArgs(args),
				ReadOnly: readOnly,
				Headless: headless,
				UUID:     uid,
				Title:    title,
				LogLevel: logLevel,
				LogFile:  logFile,
			})
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", "", "address to listen on (default "+cliconfig.DefaultListen+")")
	flags.StringVar(&command, "command", "", "command to run behind the PTY (default $SHELL)")
	flags.StringVar(&args, "args", "", "space-separated arguments to the command")
	flags.BoolVar(&readOnly, "readonly", false, "reject all viewer input for this session")
	flags.BoolVar(&headless, "headless", false, "force client-driven size negotiation even if a controlling terminal is present")
	flags.StringVar(&uid, "uuid", "", "explicit session id (default: generated)")
	flags.StringVar(&title, "title", "", "human-readable session title")
	flags.StringVar(&logLevel, "log-level", "", "debug|info|warn|error (default info)")
	flags.StringVar(&logFile, "log-file", "", "also write logs to this file")

	return cmd
}

func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}

func run(cfg cliconfig.Config) error {
	log, err := plog.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl, err := session.New(ctx, session.Config{
		ID:          cfg.UUID,
		Title:       cfg.Title,
		Command:     cfg.Command,
		Args:        cfg.Args,
		ReadOnly:    cfg.ReadOnly,
		Headless:    cfg.Headless,
		InitialCols: 80,
		InitialRows: 24,
	}, log)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	reg := session.NewRegistry()
	reg.Register(ctrl)

	banner.Write(os.Stdout, banner.Info{
		Title:     cfg.Title,
		SessionID: ctrl.ID,
		Listen:    cfg.Listen,
		Command:   cfg.Command,
		ReadOnly:  ctrl.ReadOnly(),
		Headless:  ctrl.Headless(),
	})

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: httpserver.Router(reg, log),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", "signal")
	case <-ctrl.Done():
		log.Info("shutting down", "reason", "pty exited")
	case err := <-errCh:
		log.Error("http server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	ctrl.Shutdown(5 * time.Second)
	reg.Unregister(ctrl.ID)
	return nil
}
