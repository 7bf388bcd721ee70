package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/pipeline"
)

func newChorusCmd(g *globalFlags) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "chorus",
		Short: "Print the detected chorus window as JSON",
		Long: `Run chorus detection only and print the selected window.

Example:
  piano-grep chorus -i song.wav`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(g)
			if err != nil {
				return err
			}

			orch := pipeline.NewOrchestrator(settings, cmd.ErrOrStderr(), g.verbose, pipeline.WithCache(nil))
			w, err := orch.DetectChorus(cmd.Context(), input)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(w)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input audio file")
	cmd.MarkFlagRequired("input")
	return cmd
}
