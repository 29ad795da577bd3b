package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"gtgstore/internal/datastore"
	"gtgstore/internal/utils"
)

func newBackupsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "List or purge data file backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newBackupsListCmd(stdout, stderr, cfg))
	cmd.AddCommand(newBackupsPurgeCmd(stdout, stderr, cfg))
	return cmd
}

// listBackups returns the regular files in the backup directory that belong
// to the data file, sorted by name.
func listBackups(fs afero.Fs, path string) ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(fs, datastore.BackupDir(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	prefix := filepath.Base(path) + "."
	var out []os.FileInfo
	for _, fi := range entries {
		if fi.Mode().IsRegular() && strings.HasPrefix(fi.Name(), prefix) {
			out = append(out, fi)
		}
	}
	return out, nil
}

func newBackupsListCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups of the data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}

			backups, err := listBackups(s.fs, s.path)
			if err != nil {
				return fmt.Errorf("failed to read backup directory: %w", err)
			}
			dir := datastore.BackupDir(s.path)
			if len(backups) == 0 {
				_, _ = fmt.Fprintf(stdout, "No backups in %s\n", dir)
				return nil
			}

			_, _ = fmt.Fprintln(stdout, s.styles.title.Render("Backups in "+dir))
			for _, fi := range backups {
				_, _ = fmt.Fprintf(stdout, "  %-36s %8s  %s\n",
					fi.Name(),
					humanize.Bytes(uint64(fi.Size())),
					s.styles.label.Render(humanize.Time(fi.ModTime())))
			}
			return nil
		},
	}
}

func newBackupsPurgeCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete backups older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}

			days := s.app.GetRetentionDays()
			if cmd.Flags().Changed("days") {
				days, _ = cmd.Flags().GetInt("days")
			}
			if days <= 0 {
				return utils.ErrInvalidDays(days, 1)
			}

			before, err := listBackups(s.fs, s.path)
			if err != nil {
				return fmt.Errorf("failed to read backup directory: %w", err)
			}
			if err := s.ds.PurgeBackups(datastore.BackupDir(s.path), days); err != nil {
				return fmt.Errorf("failed to purge backups: %w", err)
			}
			after, err := listBackups(s.fs, s.path)
			if err != nil {
				return fmt.Errorf("failed to read backup directory: %w", err)
			}

			_, _ = fmt.Fprintf(stdout, "Removed %d backups older than %d days\n", len(before)-len(after), days)
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "Age in days (default: backups.retention_days)")
	return cmd
}
