package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tamirms/rterrain"
	"github.com/tamirms/rterrain/terrain"
)

func newInspectCmd(g *globalFlags) *cobra.Command {
	var showHeader bool
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Show a package's header, blocks and digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := rterrain.Open(args[0], rterrain.WithOpenLogger(g.logger))
			if err != nil {
				return err
			}
			defer p.Close()
			return inspect(cmd.OutOrStdout(), args[0], p, showHeader)
		},
	}
	cmd.Flags().BoolVar(&showHeader, "header", false, "Print the full header record")
	return cmd
}

func inspect(out io.Writer, path string, p *rterrain.Package, showHeader bool) error {
	s := p.Stats()
	fmt.Fprintf(out, "Package:  %s\n", path)
	fmt.Fprintf(out, "Size:     %s\n", humanize.IBytes(uint64(s.Size)))
	fmt.Fprintf(out, "Digest:   %s\n", p.Digest())
	fmt.Fprintf(out, "Blocks:   %d decoded, %d failed, %d declared\n", s.Blocks, s.FailedBlocks, s.DeclaredBlocks)
	if s.CompressedSize > 0 {
		fmt.Fprintf(out, "Payload:  %s in %s (%.2fx)\n",
			humanize.IBytes(uint64(s.UncompressedSize)), humanize.IBytes(uint64(s.CompressedSize)), s.Ratio())
	}

	var meta terrain.Metadata
	if err := p.DecodeHeader(&meta); err == nil && meta.Format == terrain.FormatName {
		printTerrain(out, &meta)
	}
	if showHeader {
		fmt.Fprintf(out, "\nHeader:\n%s\n", indentJSON(p.Header()))
	}

	fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tTYPE\tSIZE\tSTORED\tRATIO\tCODEC")
	for _, name := range p.BlockNames() {
		info, _ := p.BlockInfo(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			name, info.Kind, blockType(info),
			humanize.IBytes(uint64(info.UncompressedSize)), humanize.IBytes(uint64(info.CompressedSize)),
			info.Ratio(), info.Compression)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if errs := p.BlockErrors(); len(errs) > 0 {
		fmt.Fprintf(out, "\nBlock errors:\n")
		for _, be := range errs {
			fmt.Fprintf(out, "  %v\n", be)
		}
	}
	return nil
}

func blockType(info rterrain.BlockInfo) string {
	if info.Kind != rterrain.KindGrid {
		return "-"
	}
	dims := make([]string, len(info.Shape))
	for i, d := range info.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return info.DType.String() + "[" + strings.Join(dims, "x") + "]"
}

func printTerrain(out io.Writer, m *terrain.Metadata) {
	fmt.Fprintf(out, "\nProject:  %s (%s), %s\n", m.Project.Name, m.Project.Profile, m.Project.Location)
	fmt.Fprintf(out, "Area:     %s km² in %v\n", humanize.CommafWithDigits(m.Project.AreaKm2, 2), m.Project.BBox)
	fmt.Fprintf(out, "Created:  %s (exporter %s)\n", m.Created.Format("2006-01-02 15:04:05 MST"), m.PluginVersion)
	if m.Terrain.HeightmapSize != nil {
		fmt.Fprintf(out, "Terrain:  %v cells at %gm", m.Terrain.HeightmapSize, m.Terrain.ResolutionM)
		if m.Terrain.MinElevation != nil {
			fmt.Fprintf(out, ", elevation %.1f to %.1f m", *m.Terrain.MinElevation, *m.Terrain.MaxElevation)
		}
		fmt.Fprintln(out)
	}
	if m.Textures != nil && len(m.Textures.MaterialLayers) > 0 {
		fmt.Fprintf(out, "Layers:   %s\n", strings.Join(m.Textures.MaterialLayers, ", "))
	}
}
