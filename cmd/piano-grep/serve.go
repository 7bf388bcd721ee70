package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dygy/piano-grep/internal/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the JSON API for submitting uploads or YouTube URLs and
downloading the resulting arrangements.

Example:
  piano-grep serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(g)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				settings.Server.Port = port
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			srv, err := server.New(settings, newLogger(settings, g.verbose))
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			printf(cmd, "\n  piano-grep API running at: http://localhost:%d/api\n\n", settings.Server.Port)
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	return cmd
}
