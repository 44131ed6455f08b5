package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/modelfetch/modelfetch/internal/config"
	"github.com/modelfetch/modelfetch/internal/engerr"
	"github.com/modelfetch/modelfetch/internal/orchestrator"
	"github.com/modelfetch/modelfetch/internal/precondition"
	"github.com/modelfetch/modelfetch/internal/state"
	"github.com/modelfetch/modelfetch/internal/tier"
	"github.com/modelfetch/modelfetch/internal/ui"
	"github.com/modelfetch/modelfetch/internal/verify"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "modelfetch",
		Short:   "Parallel, resumable downloads of model artifacts",
		Long:    `modelfetch downloads the artifacts of a model tier from a CDN origin using parallel, resumable, byte-range chunked transfers.`,
		Version: version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("modelfetch version %s\n", version))

	rootCmd.AddCommand(
		newStartCmd(),
		newResumeCmd(),
		newResetCmd(),
		newStatusCmd(),
		newVerifyCmd(),
		newTiersCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// signalContext returns a context canceled on SIGINT/SIGTERM, giving the
// orchestrator a chance to persist its snapshot before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(os.Stderr, "\ninterrupted, saving progress...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// sessionFlags are the tuning knobs shared by start and resume.
type sessionFlags struct {
	outputDir      string
	parallelFiles  int
	parallelChunks int
	chunkSize      string
	maxBandwidth   string
	allowCellular  bool
	metered        bool
	sessionID      string
}

func (sf *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sf.outputDir, "output", "", "destination directory (default: current directory)")
	cmd.Flags().IntVar(&sf.parallelFiles, "parallel-files", 0, "max files downloaded concurrently")
	cmd.Flags().IntVar(&sf.parallelChunks, "parallel-chunks", 0, "max chunks in flight across all files")
	cmd.Flags().StringVar(&sf.chunkSize, "chunk-size", "", "fixed chunk size (e.g. 10MiB); default sizes by file size")
	cmd.Flags().StringVar(&sf.maxBandwidth, "max-bandwidth", "", "bandwidth cap (e.g. 5MB); default unlimited")
	cmd.Flags().BoolVar(&sf.allowCellular, "allow-cellular", false, "permit downloading over a metered connection")
	cmd.Flags().BoolVar(&sf.metered, "metered", false, "treat the connection as metered (download requires --allow-cellular)")
	cmd.Flags().StringVar(&sf.sessionID, "session-id", "", "resume a specific session (default: derived from tier and output dir)")
}

// runSession builds an orchestrator from flags and config and runs the
// download to completion, rendering progress as it goes.
func runSession(t tier.Tier, sf *sessionFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	root := resolveOutputDir(sf.outputDir, cfg.OutputDir)
	sessionID := sf.sessionID
	if sessionID == "" {
		sessionID = defaultSessionID(root, t)
	}

	opts := orchestrator.Options{
		ParallelFiles:  firstPositive(sf.parallelFiles, cfg.ParallelFiles),
		ParallelChunks: firstPositive(sf.parallelChunks, cfg.ParallelChunks),
		AllowCellular:  sf.allowCellular || cfg.AllowCellular,
		Metered:        sf.metered,
	}
	if opts.ChunkSize, err = resolveChunkSize(sf.chunkSize, cfg); err != nil {
		return err
	}
	if opts.BandwidthLimit, err = resolveBandwidth(sf.maxBandwidth, cfg); err != nil {
		return err
	}

	tracker := ui.NewProgressTracker()
	opts.OnSnapshot = tracker.Render

	o := orchestrator.New(root, t, sessionID, opts)

	ctx, cancel := signalContext()
	defer cancel()

	if err := o.Start(ctx); err != nil {
		var storage *engerr.InsufficientStorageError
		if errors.As(err, &storage) {
			fmt.Fprintln(os.Stderr, precondition.DescribeRequirement(storage))
		}
		return err
	}
	if snap := o.Snapshot(); snap != nil {
		fmt.Fprintf(os.Stderr, "downloaded %d file(s), %s\n",
			len(snap.Files), units.BytesSize(float64(snap.TotalSize)))
	}
	return nil
}

func newStartCmd() *cobra.Command {
	sf := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "start <tier>",
		Short: "Download a model tier's artifacts, resuming any prior progress",
		Long: `Download every artifact of the named model tier. Progress is persisted
after each chunk, so an interrupted run (Ctrl-C, crash, power loss)
continues where it left off on the next start or resume.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tier.Get(args[0])
			if err != nil {
				return err
			}
			return runSession(t, sf)
		},
	}
	sf.register(cmd)
	return cmd
}

func newResumeCmd() *cobra.Command {
	sf := &sessionFlags{}
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue the interrupted download session",
		Long: `Continue the session recorded in download_state.json. Only chunks that
had not completed are requested again; completed chunks and merged files
are kept as-is.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root := resolveOutputDir(sf.outputDir, cfg.OutputDir)
			snap, err := state.NewStore(state.Layout{RootDir: root}).Load()
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no download session to resume in %s", root)
			}
			t, err := tier.Get(snap.Tier)
			if err != nil {
				return err
			}
			if sf.sessionID == "" {
				sf.sessionID = snap.SessionID
			}
			return runSession(t, sf)
		},
	}
	sf.register(cmd)
	return cmd
}

func newResetCmd() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:     "reset <tier>",
		Aliases: []string{"clean"},
		Short:   "Delete a tier's merged artifacts, chunk temporaries, and session state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := tier.Get(args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root := resolveOutputDir(outputDir, cfg.OutputDir)
			layout := state.Layout{RootDir: root, TierFolderName: t.FolderName}
			return layout.Reset()
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "", "destination directory (default: current directory)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show progress of the recorded download session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root := resolveOutputDir(outputDir, cfg.OutputDir)
			snap, err := state.NewStore(state.Layout{RootDir: root}).Load()
			if err != nil {
				return err
			}
			ui.PrintSnapshot(snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "", "destination directory (default: current directory)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		outputDir string
		withHash  bool
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check merged artifact lengths against their expected sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			root := resolveOutputDir(outputDir, cfg.OutputDir)
			snap, err := state.NewStore(state.Layout{RootDir: root}).Load()
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("no recorded download session in %s", root)
			}
			t, err := tier.Get(snap.Tier)
			if err != nil {
				return err
			}
			layout := state.Layout{RootDir: root, TierFolderName: t.FolderName}
			for _, f := range snap.Files {
				path := layout.ArtifactPath(f.FileName)
				if err := verify.VerifyLength(path, f.TotalSize); err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", f.FileName, err)
					return err
				}
				if withHash {
					digest, err := verify.ComputeHash(path)
					if err != nil {
						return err
					}
					fmt.Printf("%s: OK  sha256=%s\n", f.FileName, digest)
					continue
				}
				fmt.Printf("%s: OK\n", f.FileName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output", "", "destination directory (default: current directory)")
	cmd.Flags().BoolVar(&withHash, "hash", false, "also compute each artifact's SHA-256 digest")
	return cmd
}

func newTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the available model tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range tier.All() {
				names := make([]string, len(t.Artifacts))
				for i, a := range t.Artifacts {
					names[i] = a.FileName
				}
				fmt.Printf("%-10s %s\n", t.Name, strings.Join(names, ", "))
			}
			return nil
		},
	}
}

func resolveOutputDir(flagVal, cfgVal string) string {
	if flagVal != "" {
		return flagVal
	}
	if cfgVal != "" {
		return cfgVal
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

func resolveChunkSize(flagVal string, cfg *config.Config) (int64, error) {
	if flagVal != "" {
		cfg = &config.Config{ChunkSize: flagVal}
	}
	return cfg.ChunkSizeBytes()
}

func resolveBandwidth(flagVal string, cfg *config.Config) (int64, error) {
	if flagVal != "" {
		cfg = &config.Config{MaxBandwidth: flagVal}
	}
	return cfg.MaxBandwidthBytesPerSec()
}

// defaultSessionID derives a stable session identifier from the output
// root and tier so rerunning "start" against the same destination
// resumes the same session rather than starting a disjoint one. FNV is
// enough here: the id only names a scratch directory.
func defaultSessionID(root string, t tier.Tier) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	h := fnv.New64a()
	h.Write([]byte(abs + "|" + t.Name))
	return fmt.Sprintf("%016x", h.Sum64())
}

// exitCodeFor maps an engine error to the process exit code embedders
// can script against without parsing message text.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var (
		canceled  *engerr.CanceledError
		integrity *engerr.IntegrityMismatchError
		storage   *engerr.InsufficientStorageError
		network   *engerr.NetworkUnavailableError
		consent   *engerr.CellularConsentRequiredError
		httpErr   *engerr.HTTPError
	)
	switch {
	case errors.As(err, &canceled):
		return 5
	case errors.As(err, &integrity):
		return 4
	case errors.As(err, &storage), errors.As(err, &network), errors.As(err, &consent):
		return 2
	case errors.As(err, &httpErr):
		if httpErr.Retryable() {
			return 1
		}
		return 3
	default:
		return 1
	}
}
