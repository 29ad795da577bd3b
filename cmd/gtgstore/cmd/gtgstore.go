package cmd

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"gtgstore/backend"
	_ "gtgstore/backend/file"
	_ "gtgstore/backend/local"
	_ "gtgstore/backend/sqlite"
	"gtgstore/internal/config"
	"gtgstore/internal/datastore"
	"gtgstore/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Config holds settings that override the config file. Tests use it to
// isolate each run.
type Config struct {
	ConfigPath string           // Config file; empty means the XDG default
	DataPath   string           // Overrides data_path from the config file
	Verbose    bool             // Forces debug output
	Fs         afero.Fs         // Filesystem for the data file (default: OS)
	Now        func() time.Time // Clock for backups and purges (default: time.Now)
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewGtgStore(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// NewGtgStore creates the root command with injectable IO
func NewGtgStore(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}

	cmd := &cobra.Command{
		Use:   "gtgstore",
		Short: "Inspect and maintain a GTG data file",
		Long: "gtgstore loads, repairs, backs up and mirrors the XML data file of the\n" +
			"Getting Things GNOME task manager.",
		Version: Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				cfg.Verbose = true
			}
			if p, _ := cmd.Flags().GetString("config"); p != "" {
				cfg.ConfigPath = p
			}
			if p, _ := cmd.Flags().GetString("data"); p != "" {
				cfg.DataPath = p
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default: $XDG_CONFIG_HOME/gtgstore/config.yaml)")
	cmd.PersistentFlags().StringP("data", "d", "", "Data file (overrides data_path)")

	cmd.AddCommand(newInfoCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCheckCmd(stdout, stderr, cfg))
	cmd.AddCommand(newSaveCmd(stdout, stderr, cfg))
	cmd.AddCommand(newPurgeCmd(stdout, stderr, cfg))
	cmd.AddCommand(newSamplesCmd(stdout, stderr, cfg))
	cmd.AddCommand(newBackupsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newSyncCmd(stdout, stderr, cfg))
	cmd.AddCommand(newWatchCmd(stdout, stderr, cfg))

	return cmd
}

// =============================================================================
// Session
// =============================================================================

// session is one command run: the loaded config and a datastore for the
// resolved data file.
type session struct {
	app    *config.Config
	fs     afero.Fs
	path   string
	ds     *datastore.Datastore
	stdout io.Writer
	stderr io.Writer
	styles styles
}

func newSession(cfg *Config, stdout, stderr io.Writer) (*session, error) {
	app, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, utils.WrapWithSuggestion(err, "Fix the config file or remove it to have a commented sample written")
	}

	utils.GetLogger().SetOutput(stderr)
	utils.SetVerboseMode(cfg.Verbose || app.Logging.Verbose)

	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	path := app.GetDataPath()
	if cfg.DataPath != "" {
		path = config.ExpandPath(cfg.DataPath)
	}

	// The datastore treats 0 as "use the default"; the config uses it to
	// switch the purge off.
	retention := app.GetRetentionDays()
	if retention == 0 {
		retention = -1
	}

	ds := datastore.New(datastore.Config{
		Fs:            fs,
		AppVersion:    Version,
		BackupsNumber: app.GetBackupsNumber(),
		RetentionDays: retention,
		Now:           cfg.Now,
	})

	return &session{
		app:    app,
		fs:     fs,
		path:   path,
		ds:     ds,
		stdout: stdout,
		stderr: stderr,
		styles: newStyles(stdout),
	}, nil
}

// load resolves and loads the data file, creating it on first run.
func (s *session) load() error {
	if err := s.ds.FindAndLoadFile(s.path); err != nil {
		return utils.ErrDataFileUnavailable(s.path, err)
	}
	if info, ok := s.ds.BackupInfo(); ok {
		_, _ = fmt.Fprintln(s.stderr, s.styles.warn.Render(
			fmt.Sprintf("Data recovered from %s (saved %s)", info.Name, info.Time)))
	}
	return nil
}

// registerBackends builds the configured backends and hands them to the
// datastore. With ids, only those backends and the default one are used.
// The default backend registers last so that its load activates the rest.
func (s *session) registerBackends(ids []string) error {
	confs := slices.Clone(s.app.GetBackends())

	if len(ids) > 0 {
		for _, id := range ids {
			if !slices.ContainsFunc(confs, func(bc config.BackendConfig) bool { return bc.ID == id }) {
				return utils.ErrBackendNotConfigured(id)
			}
		}
		confs = slices.DeleteFunc(confs, func(bc config.BackendConfig) bool {
			return !bc.Default && !slices.Contains(ids, bc.ID)
		})
	}

	slices.SortStableFunc(confs, func(a, b config.BackendConfig) int {
		return cmp.Compare(boolRank(a.Default), boolRank(b.Default))
	})

	for _, bc := range confs {
		be, err := backend.New(bc.Type, bc.ID, bc.Params)
		if errors.Is(err, backend.ErrUnknownType) {
			return utils.ErrUnknownBackendType(bc.Type, backend.Types())
		}
		if err != nil {
			return err
		}
		if len(bc.AttachedTags) > 0 {
			be.SetAttachedTags(bc.AttachedTags)
		}

		enabled, isDefault := bc.IsEnabled(), bc.Default
		if _, err := s.ds.RegisterBackend(datastore.Descriptor{
			Backend: be,
			ID:      bc.ID,
			Enabled: &enabled,
			Default: &isDefault,
		}); err != nil {
			return err
		}
	}
	return nil
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// Styling
// =============================================================================

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	good  lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
}

// newStyles returns colored styles for terminals and no-op styles otherwise.
func newStyles(w io.Writer) styles {
	if !isTerminal(w) {
		plain := lipgloss.NewStyle()
		return styles{title: plain, label: plain, good: plain, warn: plain, bad: plain}
	}
	return styles{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		good:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// info / check / save
// =============================================================================

type infoJSON struct {
	Path          string         `json:"path"`
	LoadedFrom    string         `json:"loaded_from"`
	RecoveredFrom string         `json:"recovered_from,omitempty"`
	Tags          int            `json:"tags"`
	SavedSearches int            `json:"saved_searches"`
	Tasks         int            `json:"tasks"`
	TagCounts     map[string]int `json:"tag_counts"`
}

func newInfoCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show what the data file contains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}
			if err := s.load(); err != nil {
				return err
			}

			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				info := s.ds.Info()
				out := infoJSON{
					Path:          s.ds.Path(),
					LoadedFrom:    s.ds.LoadedFrom(),
					Tags:          info.Tags,
					SavedSearches: info.SavedSearches,
					Tasks:         info.Tasks,
					TagCounts:     s.ds.TagCounts(),
				}
				if b, ok := s.ds.BackupInfo(); ok {
					out.RecoveredFrom = b.Name
				}
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			st := s.styles
			_, _ = fmt.Fprintln(stdout, st.title.Render("gtgstore "+Version))
			_, _ = fmt.Fprintf(stdout, "%s %s\n", st.label.Render("Data file:"), s.ds.Path())
			if from := s.ds.LoadedFrom(); from != s.ds.Path() {
				_, _ = fmt.Fprintf(stdout, "%s %s\n", st.label.Render("Loaded from:"), st.warn.Render(from))
			}
			s.ds.PrintInfo(stdout)

			counts := s.ds.TagCounts()
			if len(counts) > 0 {
				_, _ = fmt.Fprintln(stdout, st.label.Render("Tags in use:"))
				names := make([]string, 0, len(counts))
				for name := range counts {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					_, _ = fmt.Fprintf(stdout, "  @%s: %d\n", name, counts[name])
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output in JSON format")
	return cmd
}

func newCheckCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report which data file and backups can be loaded",
		Long: "check probes the data file, the temp file of an interrupted save and every\n" +
			"backup slot in the order they are tried at startup. Nothing is written.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}

			usable := ""
			for _, res := range s.ds.Check(s.path) {
				state := res.Kind.String()
				switch res.Kind {
				case datastore.Loaded:
					state = s.styles.good.Render(state)
					if usable == "" {
						usable = res.Path
					}
				case datastore.NotFound:
					state = s.styles.label.Render(state)
				default:
					state = s.styles.bad.Render(state)
				}
				_, _ = fmt.Fprintf(stdout, "%-20s %s\n", state, res.Path)
			}

			if usable == "" {
				return utils.WrapWithSuggestion(
					fmt.Errorf("no loadable data file for %s", s.path),
					"The next start writes a fresh data file")
			}
			_, _ = fmt.Fprintf(stdout, "Startup would load %s\n", usable)
			return nil
		},
	}
}

func newSaveCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Load and rewrite the data file, rotating backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}
			if err := s.load(); err != nil {
				return err
			}
			if err := s.ds.Save(); err != nil {
				return fmt.Errorf("failed to save %s: %w", s.ds.Path(), err)
			}
			_, _ = fmt.Fprintf(stdout, "Saved %s\n", s.ds.Path())
			return nil
		},
	}
}

// =============================================================================
// purge / samples
// =============================================================================

func newPurgeCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove old closed tasks and unused tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}

			days := s.app.GetPurgeMaxDays()
			if cmd.Flags().Changed("days") {
				days, _ = cmd.Flags().GetInt("days")
			}
			if days < 0 {
				return utils.ErrInvalidDays(days, 0)
			}

			if err := s.load(); err != nil {
				return err
			}
			res := s.ds.Purge(days)
			if res.Tasks+res.Tags > 0 {
				if err := s.ds.Save(); err != nil {
					return fmt.Errorf("failed to save %s: %w", s.ds.Path(), err)
				}
			}
			_, _ = fmt.Fprintf(stdout, "Removed %d tasks and %d tags\n", res.Tasks, res.Tags)
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "Remove tasks closed more than this many days ago (default: purge.max_days)")
	return cmd
}

func newSamplesCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "samples <count>",
		Short: "Add random sample tasks to the data file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return utils.WrapWithSuggestion(
					fmt.Errorf("invalid sample count: %s", args[0]),
					"Use a positive number, e.g. 'gtgstore samples 50'")
			}

			s, err := newSession(cfg, stdout, stderr)
			if err != nil {
				return err
			}
			if err := s.load(); err != nil {
				return err
			}
			s.ds.FillWithSamples(n)
			if err := s.ds.Save(); err != nil {
				return fmt.Errorf("failed to save %s: %w", s.ds.Path(), err)
			}
			_, _ = fmt.Fprintf(stdout, "Added %d sample tasks to %s\n", n, s.ds.Path())
			return nil
		},
	}
}
