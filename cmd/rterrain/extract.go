package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tamirms/rterrain"
)

func newExtractCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "extract FILE BLOCK",
		Short: "Write one block's decoded bytes",
		Long: "Extract writes the decoded content of a block: raw little-endian elements\n" +
			"for a grid, the stored bytes for a blob, indented JSON for a record.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := rterrain.Open(args[0], rterrain.WithOpenLogger(g.logger))
			if err != nil {
				return err
			}
			defer p.Close()

			payload, err := p.Get(args[1])
			if err != nil {
				return err
			}
			data := payloadBytes(payload)

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			g.logger.Info("block extracted", "block", args[1], "bytes", len(data), "output", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func payloadBytes(p rterrain.Payload) []byte {
	switch v := p.(type) {
	case *rterrain.Grid:
		return v.Data
	case rterrain.Blob:
		return v
	case rterrain.Record:
		return append(indentJSON(v), '\n')
	}
	return nil
}

func indentJSON(r rterrain.Record) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, r, "", "  "); err != nil {
		return r
	}
	return buf.Bytes()
}
