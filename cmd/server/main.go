package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/halvard-eide/rrworker/internal/serverapp"
)

func main() {
	app := cli.App{
		Name:  "rrworker-server",
		Usage: "round-robin single-hardware-resource scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ip", Usage: "listen IP address (overrides LISTEN_IP)"},
			&cli.IntFlag{Name: "port", Usage: "listen port (overrides LISTEN_PORT)"},
			&cli.IntFlag{Name: "pre-pool-size", Usage: "RPC-accepting concurrency limit (overrides PRE_POOL_SIZE)"},
			&cli.IntFlag{Name: "post-pool-size", Usage: "OutputQueue worker count (overrides POST_POOL_SIZE)"},
			&cli.IntFlag{Name: "idle-timeout", Usage: "seconds of total idleness before shutdown, 0 disables (overrides IDLE_TIMEOUT_SECONDS)"},
			&cli.IntFlag{Name: "release-interval", Usage: "seconds the worker may sit idle before teardown (overrides RELEASE_INTERVAL_SECONDS)"},
			&cli.IntFlag{Name: "user-slice-ms", Usage: "per-user round-robin time slice in milliseconds (overrides PER_USER_SLICE_MS)"},
			&cli.StringFlag{Name: "log-level", Usage: "logrus level (overrides LOG_LEVEL)"},
			&cli.StringFlag{Name: "admin-token", Usage: "required ?token= for /admin/events (overrides ADMIN_TOKEN)"},
		},
		Action: func(cCtx *cli.Context) error {
			idleShutdown, err := serverapp.Run(serverapp.Overrides{
				ListenIP:        cCtx.String("ip"),
				ListenPort:      cCtx.Int("port"),
				PrePoolSize:     cCtx.Int("pre-pool-size"),
				PostPoolSize:    cCtx.Int("post-pool-size"),
				IdleTimeoutSecs: cCtx.Int("idle-timeout"),
				ReleaseSecs:     cCtx.Int("release-interval"),
				UserSliceMillis: cCtx.Int("user-slice-ms"),
				LogLevel:        cCtx.String("log-level"),
				AdminToken:      cCtx.String("admin-token"),
			})
			if err != nil {
				return err
			}
			if !idleShutdown {
				os.Exit(1)
			}
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
