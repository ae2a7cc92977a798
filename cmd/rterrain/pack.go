package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tamirms/rterrain"
	"github.com/tamirms/rterrain/internal/manifest"
)

type packFlags struct {
	output      string
	noProgress  bool
	workers     int
	compression string
}

func newPackCmd(g *globalFlags) *cobra.Command {
	f := &packFlags{}
	cmd := &cobra.Command{
		Use:   "pack MANIFEST -o OUT",
		Short: "Build a package from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPack(cmd, g, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Package file to write")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", 0, "Encode blocks in parallel (overrides the manifest)")
	cmd.Flags().StringVar(&f.compression, "compression", "", "Codec: none, zstd, zlib or lz4 (overrides the manifest)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func runPack(cmd *cobra.Command, g *globalFlags, f *packFlags, manifestPath string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	header, blocks, err := m.Build()
	if err != nil {
		return err
	}

	opts := m.WriteOptions()
	if f.workers > 0 {
		opts = append(opts, rterrain.WithWorkers(f.workers))
	}
	if f.compression != "" {
		c, err := rterrain.ParseCompression(f.compression)
		if err != nil {
			return err
		}
		opts = append(opts, rterrain.WithCompression(c))
	}

	bar := progressbar.NewOptions(len(blocks),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription("Encoding"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(!f.noProgress),
	)
	opts = append(opts,
		rterrain.WithLogger(g.logger),
		rterrain.WithProgress(func(name string, uncompressed, compressed int) {
			bar.Describe(name)
			_ = bar.Add(1)
		}),
	)

	summary, err := rterrain.CreateFile(cmd.Context(), f.output, header, blocks, opts...)
	_ = bar.Finish()
	if err != nil {
		return err
	}

	var payload int64
	for _, b := range summary.Blocks {
		payload += b.UncompressedSize
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s: %d blocks, %s (%s of payload)\n",
		f.output, len(summary.Blocks), humanize.IBytes(uint64(summary.Size)), humanize.IBytes(uint64(payload)))
	fmt.Fprintf(cmd.OutOrStdout(), "Digest: %s\n", summary.Digest)
	return nil
}
