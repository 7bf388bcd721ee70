package main

import (
	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/report"
)

func newReportCmd(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <output-dir>",
		Short: "Generate an HTML report for a transcribe output directory",
		Long: `Build a self-contained HTML page with the chorus audio, a MIDI download
and a piano roll of both hands.

Example:
  piano-grep report output/song
  piano-grep report output/song -o song.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := report.NewGenerator(args[0]).Generate(output)
			if err != nil {
				return err
			}
			printf(cmd, "Report saved to: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output HTML path (default: <output-dir>/report.html)")
	return cmd
}
