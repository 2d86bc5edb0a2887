package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/halvard-eide/rrworker/internal/clientapp"
)

func main() {
	app := cli.App{
		Name:  "rrworker-client",
		Usage: "demo client for the round-robin scheduler",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server-host",
				Value: "localhost",
				Usage: "the host on which the server is accessible",
			},
			&cli.IntFlag{
				Name:  "server-port",
				Value: 3000,
				Usage: "the port the server is running on",
			},
			&cli.StringFlag{
				Name:  "user",
				Value: "demo",
				Usage: "user id sent as the first half of user_data",
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "session name sent as the second half of user_data; random if omitted",
			},
			&cli.IntFlag{
				Name:  "count",
				Value: 1,
				Usage: "number of demo work units to submit in sequence order",
			},
		},
		Action: func(cCtx *cli.Context) error {
			result := clientapp.Run(clientapp.Overrides{
				ServerHost: cCtx.String("server-host"),
				ServerPort: cCtx.Int("server-port"),
				User:       cCtx.String("user"),
				Session:    cCtx.String("session"),
				Count:      cCtx.Int("count"),
			})
			clientapp.PrintResult(result)
			return result.Error
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
