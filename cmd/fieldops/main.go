package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ldi/fieldops/internal/app"
	"github.com/ldi/fieldops/internal/config"
	"github.com/ldi/fieldops/internal/dataset"
	"github.com/ldi/fieldops/internal/generator"
	"github.com/ldi/fieldops/internal/logging"
	"github.com/ldi/fieldops/internal/mcp"
	"github.com/ldi/fieldops/internal/server"
	"github.com/ldi/fieldops/internal/snapshot"
	"github.com/ldi/fieldops/internal/store"
	"github.com/ldi/fieldops/internal/ui"
	"github.com/ldi/fieldops/internal/ui/components"
	"github.com/ldi/fieldops/internal/views"
	"github.com/ldi/fieldops/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "fieldops",
		Short:         "Track field installation tasks generated from a bill of quantities",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			selected, err := ui.RunMenu()
			if err != nil {
				return fmt.Errorf("running menu: %w", err)
			}
			if selected == "" {
				return nil
			}
			cmd.Root().SetArgs(strings.Fields(selected))
			return cmd.Root().Execute()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "path to config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
		newGenerateCmd(opts),
		newListTasksCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newSnapshotCmd(opts),
	)
	return root
}

// openApp loads config, builds the logger and opens the application.
// The returned cleanup closes the store and flushes the logger.
func (o *rootOptions) openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log, o.verbose)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return a, cleanup, nil
}

func newInitCmd(opts *rootOptions) *cobra.Command {
	var (
		withSample bool
		backend    string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create .fieldops with a default config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetDir := "."
			if len(args) > 0 {
				targetDir = args[0]
			}
			return runInit(cmd.OutOrStdout(), targetDir, backend, withSample, force)
		},
	}
	cmd.Flags().BoolVar(&withSample, "with-sample", false, "write the sample dataset and point the config at it")
	cmd.Flags().StringVar(&backend, "backend", config.BackendMemory, "store backend (memory or sqlite)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func runInit(out io.Writer, targetDir, backend string, withSample, force bool) error {
	dir := filepath.Join(targetDir, config.Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.Dir, err)
	}
	fmt.Fprintf(out, "✓ Created %s/ directory\n", config.Dir)

	gitignorePath := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("fieldops.db*\n*.log\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Fprintf(out, "✓ Created %s/.gitignore\n", config.Dir)

	cfg := config.Default()
	cfg.Store.Backend = backend
	if err := cfg.Validate(); err != nil {
		return err
	}

	if withSample {
		datasetPath := filepath.Join(dir, "dataset.yaml")
		if err := dataset.Sample().Save(datasetPath); err != nil {
			return err
		}
		cfg.Dataset.Path = filepath.Join(config.Dir, "dataset.yaml")
		fmt.Fprintf(out, "✓ Wrote sample dataset to %s\n", datasetPath)
	}

	configPath := filepath.Join(targetDir, config.DefaultPath)
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "• Kept existing config at %s\n", configPath)
	} else {
		if err := config.Save(configPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ Wrote config to %s\n", configPath)
	}

	fmt.Fprintln(out, "✓ fieldops initialized successfully")
	return nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = a.Config.Server.Addr
			}
			srv := server.NewServer(a.Tracker, a.Dataset, a.Logger.Named("http"))
			return serve(ctx, srv, addr, a.Config.Server.ShutdownTimeout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr from config)")
	return cmd
}

// serve runs srv until ctx is cancelled, then shuts it down within timeout.
func serve(ctx context.Context, srv *server.Server, addr string, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve tracker tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			s := mcp.NewServer(a.Tracker, a.Dataset, a.Config.Store.SnapshotPath)
			return mcp.Serve(s)
		},
	}
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var writeDataset string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Preview the tasks generated from the BOQ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if writeDataset != "" {
				if err := a.Dataset.Save(writeDataset); err != nil {
					return err
				}
				fmt.Fprintf(out, "✓ Wrote dataset to %s\n", writeDataset)
			}

			tasks := generator.Generate(a.Dataset, time.Now())
			for _, g := range views.GroupBySite(tasks) {
				name := g.SiteID
				if site := a.Dataset.Site(g.SiteID); site != nil {
					name = site.Name
				}
				fmt.Fprintf(out, "%s (%d tasks)\n", name, len(g.Tasks))
				for _, t := range g.Tasks {
					fmt.Fprintf(out, "  %s\n", components.TaskLine(t))
				}
			}
			fmt.Fprintf(out, "%d tasks from %d allocations\n", len(tasks), len(a.Dataset.Allocations))
			return nil
		},
	}
	cmd.Flags().StringVar(&writeDataset, "write-dataset", "", "also write the loaded dataset as YAML to this path")
	return cmd
}

func newListTasksCmd(opts *rootOptions) *cobra.Command {
	var (
		site         string
		room         string
		status       string
		role         string
		stakeholders []string
	)

	cmd := &cobra.Command{
		Use:   "list-tasks",
		Short: "List field tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.TaskFilter{SiteID: site, RoomID: room}
			if status != "" {
				s := models.TaskStatus(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				filter.Status = &s
			}
			shs, err := stakeholderFilter(stakeholders, role)
			if err != nil {
				return err
			}
			filter.Stakeholders = shs

			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			tasks, err := a.Tracker.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, t := range tasks {
				fmt.Fprintln(out, components.TaskLine(t))
			}
			fmt.Fprintf(out, "%d tasks\n", len(tasks))
			return nil
		},
	}
	cmd.Flags().StringVar(&site, "site", "", "filter by site id")
	cmd.Flags().StringVar(&room, "room", "", "filter by room id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (not_started, in_progress, blocked, done)")
	cmd.Flags().StringVar(&role, "role", "", "filter by the stakeholders a role sees")
	cmd.Flags().StringSliceVar(&stakeholders, "stakeholder", nil, "filter by stakeholder (repeatable)")
	return cmd
}

// stakeholderFilter turns --stakeholder and --role into one stakeholder set.
// Given both, only stakeholders the role may act for are kept.
func stakeholderFilter(raw []string, role string) ([]models.Stakeholder, error) {
	var out []models.Stakeholder
	for _, r := range raw {
		sh := models.Stakeholder(r)
		if !sh.Valid() {
			return nil, fmt.Errorf("unknown stakeholder %q", r)
		}
		out = append(out, sh)
	}
	if role == "" {
		return out, nil
	}

	allowed := views.StakeholdersForRole(role)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	if len(out) == 0 {
		return allowed, nil
	}
	out = slices.DeleteFunc(out, func(sh models.Stakeholder) bool {
		return !slices.Contains(allowed, sh)
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("role %q cannot act for stakeholders %s", role, strings.Join(raw, ", "))
	}
	return out, nil
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var width int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show progress per site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			tasks, err := a.Tracker.Tasks(cmd.Context())
			if err != nil {
				return err
			}

			board := components.NewSiteBoard(width)
			board.Sites = views.SiteSummaries(a.Dataset, tasks)

			total := views.Summarize(tasks)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, board.View())
			fmt.Fprintf(out, "Total: %d tasks, %d done, %d blocked, %d flagged (%.1f%% complete)\n",
				total.Total, total.Done, total.Blocked, total.Flagged, total.Completion)
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", 60, "board width in columns")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live site progress dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := opts.openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			return ui.RunDashboard(ctx, a.Tracker, a.Dataset, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import the task snapshot",
	}

	var exportPath string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write all tasks to a JSONL snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			path := exportPath
			if path == "" {
				path = a.Config.Store.SnapshotPath
			}
			if path == "" {
				return errors.New("no snapshot path configured")
			}
			if err := snapshot.Export(cmd.Context(), a.Tracker, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", path)
			return nil
		},
	}
	exportCmd.Flags().StringVar(&exportPath, "path", "", "snapshot file (defaults to store.snapshot_path)")

	var importPath string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Load tasks from a JSONL snapshot into the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := opts.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			path := importPath
			if path == "" {
				path = a.Config.Store.SnapshotPath
			}
			n, err := a.ImportSnapshot(cmd.Context(), path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d tasks from %s\n", n, path)
			return nil
		},
	}
	importCmd.Flags().StringVar(&importPath, "path", "", "snapshot file (defaults to store.snapshot_path)")

	cmd.AddCommand(exportCmd, importCmd)
	return cmd
}
