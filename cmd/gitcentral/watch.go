package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gitcentral/gitcentral/internal/daemon"
	"github.com/gitcentral/gitcentral/internal/dashboard"
	"github.com/gitcentral/gitcentral/internal/provider"
	"github.com/gitcentral/gitcentral/internal/state"
	"github.com/gitcentral/gitcentral/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "advanced",
	Short:   "Watch the working tree and print state changes",
	Long: `Keep a session open, watch the working tree and refresh the status of
files as they change. Every state change is printed as it is applied.

Press Ctrl+C to stop.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			d, err := daemon.New(s.p, daemonConfig(), &consoleSink{w: os.Stdout, root: repoRoot})
			if err != nil {
				return err
			}
			fmt.Printf("%s watching %s\n", ui.RenderAccent("👀"), repoRoot)
			return d.Run(ctx)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Start the dashboard server",
	Long: `Start the daemon with an HTTP dashboard.

Endpoints:
  GET  /health          liveness and connected feed clients
  GET  /status?path=..  cached states (all when no path is given)
  POST /ops/<kind>      submit an operation, e.g. /ops/check-in
  GET  /ws              WebSocket feed of state_changed and
                        command_completed messages

The server only listens on localhost.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") {
			port = cfg.DashboardPort
		}

		ctx := cmd.Context()
		return withSession(ctx, func(s *session) error {
			hub := dashboard.NewHub(zlog)
			d, err := daemon.New(s.p, daemonConfig(), hub)
			if err != nil {
				return err
			}
			srv := dashboard.NewServer(d, hub, dashboard.Config{Port: port, Logger: zlog})
			if err := srv.Listen(); err != nil {
				return err
			}

			fmt.Printf("Dashboard server started on http://%s\n", srv.Addr())
			fmt.Printf("WebSocket endpoint: ws://%s/ws\n", srv.Addr())
			fmt.Println("\nPress Ctrl+C to stop...")
			return d.Run(ctx, srv.Run)
		})
	},
}

func daemonConfig() daemon.Config {
	return daemon.Config{
		TickInterval: cfg.TickInterval,
		Debounce:     cfg.Debounce,
		Logger:       zlog,
	}
}

// consoleSink prints daemon events as lines.
type consoleSink struct {
	w    io.Writer
	root string
}

var _ daemon.Sink = (*consoleSink)(nil)

func (c *consoleSink) StateChanged(states []state.FileStatus, all bool) {
	if all {
		fmt.Fprintln(c.w, ui.RenderMuted("status cache reloaded"))
		return
	}
	for _, st := range states {
		rel, err := filepath.Rel(c.root, st.Path)
		if err != nil {
			rel = st.Path
		}
		fmt.Fprintf(c.w, "%-16s %s\n", ui.StateStyle(st.Working).Render(st.Working.String()), rel)
	}
}

func (c *consoleSink) CommandCompleted(id uint64, kind provider.Kind, success bool, errs []string) {
	if success {
		return
	}
	fmt.Fprintf(c.w, "%s #%d %s failed\n", ui.RenderFail("✗"), id, kind)
	for _, e := range errs {
		fmt.Fprintf(c.w, "    %s\n", e)
	}
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: dashboard_port from config)")
	rootCmd.AddCommand(watchCmd, serveCmd)
}
