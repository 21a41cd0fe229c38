package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farm-stack/farm/internal/fixture"
)

func (a *app) demoAPICmd() *cobra.Command {
	var (
		router string
		addr   string
		opts   fixture.Options
	)

	cmd := &cobra.Command{
		Use:   "demo-api",
		Short: "Serve a sample API for trying sync and watch",
		Long: `Serve a small users/posts API with an OpenAPI document at /openapi.json.
Toggle --posts while 'farm watch' runs to see types regenerate.`,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := fixture.New(router, opts)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			fmt.Fprintf(a.stdout, "🚀 Demo API (%s) on http://%s\n", srv.Router, addr)
			a.logger.Infow("Serving demo API", "router", srv.Router, "addr", addr, "posts", opts.Posts, "ai", opts.AI)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&router, "router", "stdlib", "Router ("+strings.Join(fixture.Routers, ", ")+")")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "Listen address")
	cmd.Flags().BoolVar(&opts.Posts, "posts", false, "Include the posts endpoints")
	cmd.Flags().BoolVar(&opts.AI, "ai", false, "Include the streaming AI chat endpoint")
	return cmd
}
