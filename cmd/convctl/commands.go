package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"media-converter/internal/database"
	"media-converter/internal/output"
	"media-converter/internal/progress"
	"media-converter/internal/quota"
	"media-converter/internal/startup"
)

const (
	// Default timeout for database operations
	defaultTimeout = 30 * time.Second
)

type options struct {
	limit     int
	olderThan time.Duration
	yes       bool
}

// app holds what the subcommands share. cfg is loaded before any command runs.
type app struct {
	cfg  *startup.Config
	opts options
	// confirm asks the operator before destructive commands.
	confirm func(in io.Reader, out io.Writer, prompt string) (bool, error)
}

func newRootCmd() *cobra.Command {
	return (&app{confirm: confirmTerminal}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "convctl",
		Short:        "Operate a media converter data directory",
		SilenceUsage: true,
		// errors are printed by main
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := startup.ParseConfig()
			if err != nil {
				return fmt.Errorf("configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}

	usageCmd := &cobra.Command{
		Use:   "usage",
		Short: "List per-address usage, largest first",
		Args:  cobra.NoArgs,
		RunE:  a.runUsage,
	}
	usageCmd.Flags().IntVar(&a.opts.limit, "limit", 20, "maximum rows to print")

	jobsCmd := &cobra.Command{
		Use:   "jobs [address]",
		Short: "List recent jobs, optionally for one address",
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runJobs,
	}
	jobsCmd.Flags().IntVar(&a.opts.limit, "limit", 20, "maximum rows to print")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove progress records, artifacts and job rows older than the retention",
		Args:  cobra.NoArgs,
		RunE:  a.runSweep,
	}
	sweepCmd.Flags().DurationVar(&a.opts.olderThan, "older-than", 0, "retention to apply (default PROGRESS_RETENTION)")

	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Empty the scratch directory and enforce the staging quotas",
		Args:  cobra.NoArgs,
		RunE:  a.runPurge,
	}
	purgeCmd.Flags().BoolVarP(&a.opts.yes, "yes", "y", false, "do not ask for confirmation")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			info := startup.GetBuildInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "convctl: %s\n", info.Version)
			fmt.Fprintf(out, "commit:  %s\n", info.Commit)
			fmt.Fprintf(out, "built:   %s\n", info.BuildTime)
			fmt.Fprintf(out, "go:      %s\n", info.GoVersion)
		},
	}

	root.AddCommand(usageCmd, jobsCmd, sweepCmd, purgeCmd, versionCmd)
	return root
}

func (a *app) openDatabase(ctx context.Context) (*database.Database, error) {
	if err := os.MkdirAll(a.cfg.DatabaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := database.New(ctx, a.cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %w", a.cfg.DatabasePath, err)
	}
	return db, nil
}

func (a *app) runUsage(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListUsage(ctx, a.opts.limit)
	if err != nil {
		return fmt.Errorf("list usage: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tJOBS\tMEGABYTES\tLAST SEEN")
	for _, u := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\n", u.Address, u.JobCount, u.Megabytes, u.LastSeen.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *app) runJobs(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	var address string
	if len(args) == 1 {
		address = args[0]
	}

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.ListJobs(ctx, address, a.opts.limit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tPIPELINE\tOPERATION\tSTATE\tRESULT")
	for _, j := range rows {
		result := j.ArtifactPath
		if j.State == database.JobFailed {
			result = j.FailureKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.Token, j.Pipeline, j.Operation, j.State, result)
	}
	return tw.Flush()
}

// liveTokens loads the tokens of jobs the database still lists as running,
// or as succeeded at or after since. Their files are left alone.
func liveTokens(ctx context.Context, db *database.Database, since time.Time) (map[string]bool, error) {
	toks, err := db.LiveTokens(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list live jobs: %w", err)
	}
	live := make(map[string]bool, len(toks))
	for _, tok := range toks {
		live[tok] = true
	}
	return live, nil
}

func (a *app) runSweep(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	maxAge := a.opts.olderThan
	if maxAge <= 0 {
		maxAge = a.cfg.ProgressRetention
	}
	cutoff := time.Now().Add(-maxAge)

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	live, err := liveTokens(ctx, db, cutoff)
	if err != nil {
		return err
	}
	keep := func(tok string) bool { return live[tok] }

	ch, err := progress.New(a.cfg.ProgressDir)
	if err != nil {
		return err
	}
	records, err := ch.Sweep(maxAge, keep)
	if err != nil {
		return fmt.Errorf("sweep progress records: %w", err)
	}

	out := output.NewManager(output.Config{
		DownloadDir:   a.cfg.DownloadDir,
		ConversionDir: a.cfg.ConversionDir,
		LogDir:        a.cfg.LogDir,
	}, nil, nil)
	artifacts, err := out.Sweep(cutoff, keep)
	if err != nil {
		return fmt.Errorf("sweep artifacts: %w", err)
	}

	rows, err := db.PruneJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune job records: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d progress record(s), %d artifact(s) and %d job row(s) older than %v\n",
		records, artifacts, rows, maxAge)
	if len(live) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Kept the files of %d running or recent job(s)\n", len(live))
	}
	return nil
}

func (a *app) runPurge(cmd *cobra.Command, _ []string) error {
	if !a.opts.yes {
		ok, err := a.confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf(
			"Purge %s and enforce quotas on %s and %s? Files of jobs the database lists as running "+
				"or finished within %v are kept; uploads of a submit still being received are not.",
			a.cfg.ScratchDir, a.cfg.UploadDir, a.cfg.DownloadDir, a.cfg.ProgressRetention))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	live, err := liveTokens(ctx, db, time.Now().Add(-a.cfg.ProgressRetention))
	db.Close()
	if err != nil {
		return err
	}

	enforcer := quota.New(quota.Config{
		ScratchDir: a.cfg.ScratchDir,
		Uploads:    quota.Policy{Name: "uploads", Dir: a.cfg.UploadDir, Ceiling: a.cfg.UploadQuotaBytes},
		Downloads:  quota.Policy{Name: "downloads", Dir: a.cfg.DownloadDir, Ceiling: a.cfg.DownloadQuotaBytes},
	}, nil)
	for tok := range live {
		for _, dir := range []string{a.cfg.ScratchDir, a.cfg.UploadDir, a.cfg.DownloadDir} {
			enforcer.Pin(filepath.Join(dir, tok))
		}
	}

	out := cmd.OutOrStdout()
	freed, failures := enforcer.PurgeScratch()
	fmt.Fprintf(out, "scratch:   freed %d bytes\n", freed)

	for _, p := range []quota.Policy{enforcer.Config().Uploads, enforcer.Config().Downloads} {
		rep := enforcer.Enforce(p)
		failures += rep.Failures
		if rep.Purged {
			fmt.Fprintf(out, "%-10s %d bytes over %d, freed %d bytes\n", p.Name+":", rep.StagingSize, p.Ceiling, rep.StagingFreed)
		} else {
			fmt.Fprintf(out, "%-10s %d bytes, under %d\n", p.Name+":", rep.StagingSize, p.Ceiling)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d entries could not be removed", failures)
	}
	return nil
}
