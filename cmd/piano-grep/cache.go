package main

import (
	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/cache"
	"github.com/dygy/piano-grep/internal/pipeline"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	var dir string

	open := func() (*cache.ResultCache, error) {
		settings, err := loadSettings(g)
		if err != nil {
			return nil, err
		}
		return cache.New(dir, settings.Analysis.ScriptsDir, pipeline.Fingerprint(settings))
	}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear cached analyses",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "Cache directory (default: .cache/analysis in the repository)")

	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show cache location and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			size, count, err := c.Size()
			if err != nil {
				return err
			}
			printf(cmd, "Cache:    %s\n", c.Dir())
			printf(cmd, "Version:  %s\n", c.Version())
			printf(cmd, "Entries:  %d (%.1f MB)\n", count, float64(size)/(1024*1024))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <key>",
		Short: "List arrangements produced from a cached analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			outputs, err := c.GetOutputHistory(args[0])
			if err != nil {
				return err
			}
			if len(outputs) == 0 {
				printf(cmd, "No outputs for %s\n", args[0])
				return nil
			}
			for _, o := range outputs {
				printf(cmd, "v%03d  %-12s  %3d/%-3d notes  %.0f BPM  %s\n",
					o.Version, o.Difficulty, o.RightNotes, o.LeftNotes, o.Tempo, o.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached analysis",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			if err := c.Clear(); err != nil {
				return err
			}
			printf(cmd, "Cleared %s\n", c.Dir())
			return nil
		},
	})
	return cmd
}
