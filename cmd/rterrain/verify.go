package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tamirms/rterrain"
)

func newVerifyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check block digests and the whole-file digest",
		Long: "Verify decodes every block, checking its content digest, then recomputes\n" +
			"the whole-file digest. It exits with status 1 if any file has a problem.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				if err := verifyFile(path, g); err != nil {
					failed = true
					fmt.Fprintf(out, "%s: FAILED\n", path)
					// errors.Join results print one problem per line.
					for _, line := range splitJoined(err) {
						fmt.Fprintf(out, "  %v\n", line)
					}
					continue
				}
				fmt.Fprintf(out, "%s: OK\n", path)
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
}

func verifyFile(path string, g *globalFlags) error {
	p, err := rterrain.Open(path, rterrain.WithOpenLogger(g.logger))
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Verify()
}

func splitJoined(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
