package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"

	"leaffliction/internal/catalog"
	"leaffliction/internal/config"
	"leaffliction/internal/pipeline"
	"leaffliction/internal/server"
	"leaffliction/internal/storage"
	"leaffliction/internal/tasks"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leaffliction",
		Short: "Leaf image augmentation and analysis",
		Long: `Leaffliction augments leaf photographs, balances class directories for
training, and renders the analysis views used to inspect diseased leaves.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newTransformCmd(root))
	rootCmd.AddCommand(newAugmentCmd(root))
	rootCmd.AddCommand(newBalanceCmd(root))
	rootCmd.AddCommand(newDistributionCmd(root))
	rootCmd.AddCommand(newTransformsCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func printSummary(w io.Writer, meta map[string]any) {
	fmt.Fprintf(w, "processed %d, succeeded %d, failed %d, files written %d\n",
		toInt(meta["processed"]), toInt(meta["succeeded"]), toInt(meta["failed"]), toInt(meta["outputs"]))
}

func newTransformCmd(root *Root) *cobra.Command {
	var (
		dst         string
		views       []string
		noHistogram bool
	)

	cmd := &cobra.Command{
		Use:   "transform <image|dir>...",
		Short: "Write the analysis views of leaf images",
		Long: `Write the analysis views of every image: Original, GaussianBlur, Mask,
RoiObjects, AnalyzeObject and Pseudolandmarks, plus a ColorHistogram CSV.

Examples:
  leaffliction transform leaves/Apple_scab/image (1).JPG
  leaffliction transform leaves/Apple_scab --dst out --views Mask,Pseudolandmarks`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(views) == 0 {
				views = root.cfg.Analysis.Views
			}
			if dst == "" {
				dst = root.cfg.Paths.DefaultOutput
			}
			job := pipeline.Job{
				ID:        newID("transform"),
				Type:      pipeline.JobTransform,
				InputPath: args[0],
				Output:    dst,
				Options: map[string]any{
					"inputs":      args,
					"views":       views,
					"noHistogram": noHistogram || !root.cfg.Analysis.Histogram,
				},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res.Meta)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dst, "dst", "d", "", "output directory (default: paths.default_output, else beside each image)")
	cmd.Flags().StringSliceVar(&views, "views", nil, "analysis views to write (default: all)")
	cmd.Flags().BoolVar(&noHistogram, "no-histogram", false, "skip the color histogram CSV")

	return cmd
}

func newAugmentCmd(root *Root) *cobra.Command {
	var (
		dst        string
		transforms []string
	)

	cmd := &cobra.Command{
		Use:   "augment <image|dir>...",
		Short: "Write every augmentation of leaf images",
		Long: `Write Flip, Rotate, Skew, Shear, Crop and Distortion copies of each image
as <name>_<Augmentation><ext>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dst == "" {
				dst = root.cfg.Paths.DefaultOutput
			}
			job := pipeline.Job{
				ID:        newID("augment"),
				Type:      pipeline.JobAugment,
				InputPath: args[0],
				Output:    dst,
				Options:   map[string]any{"inputs": args, "transforms": transforms},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), res.Meta)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dst, "dst", "d", "", "output directory (default: paths.default_output, else beside each image)")
	cmd.Flags().StringSliceVar(&transforms, "transforms", nil, "augmentations to apply (default: all)")

	return cmd
}

func newBalanceCmd(root *Root) *cobra.Command {
	var (
		target     int
		seed       int64
		transforms []string
	)

	cmd := &cobra.Command{
		Use:   "balance [dataset-dir]",
		Short: "Grow every class directory to the same size",
		Long: `Grow every class (sub-directory) of the dataset to the size of the largest
class, or to --target, by writing randomly augmented copies next to the
originals. A fixed --seed reproduces the same files. The directory defaults
to paths.default_input from the config.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := root.datasetDir(args)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("target") {
				target = root.cfg.Augmentation.Target
			}
			if !cmd.Flags().Changed("seed") {
				seed = root.cfg.Augmentation.Seed
			}
			if len(transforms) == 0 {
				transforms = root.cfg.Augmentation.Transforms
			}
			if target < 0 {
				return errors.New("--target must not be negative")
			}
			job := pipeline.Job{
				ID:        newID("balance"),
				Type:      pipeline.JobBalance,
				InputPath: dir,
				Options:   map[string]any{"target": target, "seed": seed, "transforms": transforms},
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "classes %d, synthesized %d, failed %d, seed %v\n",
				toInt(res.Meta["classes"]), toInt(res.Meta["synthesized"]), toInt(res.Meta["failed"]), res.Meta["seed"])
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "target", 0, "images per class (default: largest class)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (default: from config, else time based)")
	cmd.Flags().StringSliceVar(&transforms, "transforms", nil, "augmentations to sample (default: all)")

	return cmd
}

func newDistributionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "distribution [dataset-dir]",
		Short: "Show the number of images per class",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := root.datasetDir(args)
			if err != nil {
				return err
			}
			job := pipeline.Job{
				ID:        newID("distribution"),
				Type:      pipeline.JobDistribution,
				InputPath: dir,
			}
			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			printDistribution(cmd.OutOrStdout(), res.Meta)
			return nil
		},
	}
}

func printDistribution(w io.Writer, meta map[string]any) {
	total := toInt(meta["total"])
	classes, _ := meta["classes"].(map[string]any)
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		n := toInt(classes[name])
		pct := 0.0
		if total > 0 {
			pct = float64(n) / float64(total) * 100
		}
		fmt.Fprintf(w, "%-32s %6d %6.1f%%\n", name, n, pct)
	}
	fmt.Fprintf(w, "%-32s %6d\n", "total", total)
}

func newTransformsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "transforms",
		Short: "List the available augmentations and analyses",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Augmentations:")
			for _, name := range catalog.Augmentations().Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
			fmt.Fprintln(out, "Analyses:")
			for _, name := range catalog.Analyses().Names() {
				fmt.Fprintf(out, "  %s\n", name)
			}
		},
	}
}

func newWatchCmd(root *Root) *cobra.Command {
	var dst string

	cmd := &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Analyze images dropped into directories",
		Long: `Watch directories and write the analysis views of every new image once it
stops changing. Directories default to watch.paths from the config.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Paths
			}
			if len(dirs) == 0 {
				return errors.New("no directories to watch")
			}
			if dst == "" {
				dst = root.cfg.Watch.Output
			}

			w, err := tasks.NewFileSystemWatcher(dirs, root.cfg.Watch.Debounce.Duration, root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				w.Stop()
				return err
			}
			defer w.Stop()

			root.log.Info("watching", "dirs", dirs, "output", dst)
			server.SubmitEvents(cmd.Context(), w.Events, root.pipeline.Submit, dst, root.log)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dst, "dst", "d", "", "output directory for analysis views")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start an HTTP server for submitting and monitoring jobs. With --watch, new
images in those directories are analyzed as they arrive.

Examples:
  leaffliction serve --addr :8080
  leaffliction serve --watch /data/incoming`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = root.cfg.Server.Addr
			}
			watch := root.cfg.Watch
			if len(watchPaths) > 0 {
				watch.Paths = watchPaths
			}
			root.log.Info("starting server", "addr", addr, "watch_paths", watch.Paths)
			return root.serveFn(cmd.Context(), addr, watch, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "server address (default: server.addr from config)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to analyze new images from")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.configShow(cmd.OutOrStdout())
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printVersion(cmd.OutOrStdout())
		},
	}
}
