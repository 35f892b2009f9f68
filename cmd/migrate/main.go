package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"objectdetection/internal/config"
	"objectdetection/internal/model"
	"objectdetection/internal/repository"
	"objectdetection/internal/repository/store"
	"objectdetection/internal/service/indexer"
)

var (
	envFile   string
	imagesDir string
	storeKind string
	dryRun    bool
)

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Import annotated frames from the image directory into the record store",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load(envFile)
		if imagesDir != "" {
			cfg.ImageDirectory = imagesDir
		}
		if storeKind != "" {
			cfg.StoreKind = storeKind
		}
		return migrate(cmd.Context(), cfg, cmd)
	},
}

func init() {
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional .env file loaded before reading the environment")
	rootCmd.Flags().StringVar(&imagesDir, "images", "", "Directory containing indexed frames (default: IMAGE_DIR)")
	rootCmd.Flags().StringVar(&storeKind, "store", "", "Record store to import into: sqlite or postgres (default: STORE_KIND)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report what would be imported")
}

func migrate(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Migrating frames from %s to %s store\n", cfg.ImageDirectory, cfg.StoreKind)

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("STORE_KIND is none, nothing to migrate into")
	}
	defer st.Close()

	files, err := os.ReadDir(cfg.ImageDirectory)
	if err != nil {
		return fmt.Errorf("failed to read images directory: %w", err)
	}

	var imported, existing, skipped int
	for _, file := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		rec, err := recordFor(cfg.ImageDirectory, file)
		if err != nil {
			fmt.Fprintf(out, "Skipping %s: %v\n", file.Name(), err)
			skipped++
			continue
		}

		found, err := st.Frames.Exists(ctx, rec.Filename)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", rec.Filename, err)
		}
		if found {
			existing++
			continue
		}
		if dryRun {
			imported++
			continue
		}
		if _, err := st.Frames.Insert(ctx, rec); err != nil {
			fmt.Fprintf(out, "Failed to insert %s: %v\n", rec.Filename, err)
			skipped++
			continue
		}
		imported++
	}

	verb := "Imported"
	if dryRun {
		verb = "Would import"
	}
	fmt.Fprintf(out, "%s %d frame(s), %d already present, %d skipped\n", verb, imported, existing, skipped)
	printStats(ctx, out, st.Frames)
	return nil
}

// recordFor builds a frame record from an indexed filename. Detections are
// not recoverable from the file, so the record carries none.
func recordFor(dir string, file os.DirEntry) (*model.FrameRecord, error) {
	name, err := indexer.Parse(file.Name())
	if err != nil {
		return nil, err
	}
	info, err := file.Info()
	if err != nil {
		return nil, err
	}
	return &model.FrameRecord{
		Filename:   file.Name(),
		Resolution: name.Resolution.String(),
		Topic:      model.UnknownTopic,
		Sequence:   name.Counter,
		Timestamp:  name.Timestamp,
		FilePath:   filepath.Join(dir, file.Name()),
		FileSize:   info.Size(),
	}, nil
}

func printStats(ctx context.Context, out io.Writer, frames repository.FrameRepository) {
	stats, err := frames.GetStats(ctx)
	if err != nil {
		return
	}
	fmt.Fprintf(out, "\nStore statistics:\n")
	fmt.Fprintf(out, "   Total frames: %d\n", stats.TotalFrames)
	fmt.Fprintf(out, "   Total size: %d bytes\n", stats.TotalSizeBytes)
	fmt.Fprintf(out, "   Per resolution:\n")
	for res, count := range stats.PerResolution {
		fmt.Fprintf(out, "      - %s: %d frames\n", res, count)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
