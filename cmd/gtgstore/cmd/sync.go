package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"gtgstore/internal/shutdown"
	"gtgstore/internal/utils"
	"gtgstore/internal/watcher"
)

// shutdownTimeout bounds how long backends get to finish on exit.
const shutdownTimeout = 30 * time.Second

func newSyncCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [backend-id...]",
		Short: "Mirror every task to the configured backends",
		Long: "sync loads the data file, starts the default backend and then every other\n" +
			"enabled backend, offers each of them every task, and waits for them to finish.\n" +
			"With backend ids only those backends are synced.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}
			if err := s.load(); err != nil {
				return err
			}
			if err := s.registerBackends(args); err != nil {
				return err
			}

			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := s.ds.Wait(ctx); err != nil {
				_ = s.ds.Shutdown(context.Background())
				return fmt.Errorf("backends did not finish within %s: %w", timeout, err)
			}
			if err := s.ds.Shutdown(ctx); err != nil {
				return fmt.Errorf("failed to stop backends: %w", err)
			}

			synced := 0
			for _, be := range s.ds.GetAllBackends(true) {
				state := s.styles.good.Render("synced")
				switch {
				case !be.IsEnabled():
					state = s.styles.label.Render("disabled")
				case be.IsDefault():
					state = s.styles.label.Render("default")
				default:
					synced++
				}
				_, _ = fmt.Fprintf(stdout, "  %-20s %s\n", be.ID(), state)
			}
			_, _ = fmt.Fprintf(stdout, "Synced %d tasks to %d backends\n", s.ds.Tasks.Count(), synced)
			return nil
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Minute, "Give up waiting for backends after this long")
	return cmd
}

func newWatchCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep backends in sync while another program edits the data file",
		Long: "watch starts every enabled backend, then reloads the data file whenever it\n" +
			"changes on disk and offers the reloaded tasks to the non-default backends.\n" +
			"Stop it with Ctrl+C.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}

			if s.app.Logging.File != "" {
				restore, err := utils.LogToFile(utils.FileLogConfig{Path: s.app.Logging.File})
				if err != nil {
					return fmt.Errorf("failed to open log file: %w", err)
				}
				defer restore()
			}

			if err := s.load(); err != nil {
				return err
			}
			if err := s.registerBackends(nil); err != nil {
				return err
			}

			w, err := watcher.New(watcher.Config{
				Path:             s.path,
				DebounceDuration: s.app.GetDebounce(),
				OnChange:         s.reload,
			})
			if err != nil {
				return err
			}

			mgr := shutdown.NewManager(s.ds)
			stop := mgr.NotifySignals()
			defer stop()
			mgr.AddSource("watcher", w.Stop)

			if err := w.Start(); err != nil {
				_ = mgr.Wait(context.Background())
				return err
			}
			_, _ = fmt.Fprintf(stdout, "Watching %s (Ctrl+C to stop)\n", s.path)

			var deadline <-chan time.Time
			if d, _ := cmd.Flags().GetDuration("for"); d > 0 {
				deadline = time.After(d)
			}
			select {
			case <-mgr.Done():
			case <-cmd.Context().Done():
			case <-deadline:
			}
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := mgr.Wait(ctx); err != nil {
				return fmt.Errorf("shutdown did not finish: %w", err)
			}
			_, _ = fmt.Fprintln(stdout, "Stopped")
			return nil
		},
	}
	cmd.Flags().Duration("for", 0, "Stop after this long (default: until interrupted)")
	return cmd
}

// reload replaces the in-memory data with the file on disk and offers every
// task to the non-default backends. A file that does not load is skipped;
// the previous data stays.
func (s *session) reload() {
	if err := s.ds.LoadFile(s.path); err != nil {
		utils.Warnf("Reload of %s failed, keeping previous data: %v", s.path, err)
		return
	}
	utils.Infof("Reloaded %s: %d tasks", s.path, s.ds.Tasks.Count())

	for _, be := range s.ds.GetAllBackends(false) {
		if be.IsDefault() {
			continue
		}
		if err := s.ds.FlushAllTasks(be.ID()); err != nil {
			utils.Warnf("Flush to %s failed: %v", be.ID(), err)
		}
	}
}
