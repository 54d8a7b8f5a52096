// Command kernel serves the example application and inspects its wiring.
//
//	kernel serve --port 8080
//	kernel routes
//	kernel bindings
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/km-arc/go-kernel/framework/app"
)

func main() {
	cmd := &cli.Command{
		Name:    "kernel",
		Usage:   "HTTP kernel with a service container and middleware pipeline",
		Version: app.Version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "dotenv files to load before reading the environment",
				Value: []string{".env"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the HTTP server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "port", Usage: "listen port (overrides APP_PORT)"},
				},
				Action: serve,
			},
			{
				Name:   "routes",
				Usage:  "list registered routes",
				Action: listRoutes,
			},
			{
				Name:   "bindings",
				Usage:  "list container bindings",
				Action: listBindings,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap creates and boots the application with the example routes.
func bootstrap(cmd *cli.Command) *app.Application {
	application := app.New(cmd.StringSlice("env-file")...)
	application.Boot()
	registerRoutes(application.Router())
	return application
}

func serve(ctx context.Context, cmd *cli.Command) error {
	if port := cmd.String("port"); port != "" {
		if err := os.Setenv("APP_PORT", port); err != nil {
			return err
		}
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return bootstrap(cmd).Run(ctx)
}

func listRoutes(_ context.Context, cmd *cli.Command) error {
	application := bootstrap(cmd)

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATTERN\tMIDDLEWARE")
	for _, rt := range application.Router().Routes() {
		for _, m := range rt.Methods {
			fmt.Fprintf(tw, "%s\t%s\t%v\n", m, rt.Pattern, rt.MiddlewareNames())
		}
	}
	return tw.Flush()
}

func listBindings(_ context.Context, cmd *cli.Command) error {
	application := bootstrap(cmd)

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ABSTRACT\tSHARED\tRESOLVED")
	for _, abstract := range application.Bindings() {
		fmt.Fprintf(tw, "%s\t%t\t%t\n", abstract, application.IsShared(abstract), application.Resolved(abstract))
	}
	return tw.Flush()
}
