package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "tickworkd"
	app.Usage = "tick and wall-clock task scheduler daemon"
	app.UsageText = "tickworkd [--config FILE] <command> [arguments...]"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "./tickwork.yaml",
			Usage:  "path to the config file (json or yaml)",
			EnvVar: "TICKWORK_CONFIG",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the scheduler daemon (default)",
			Action: run,
		},
		{
			Name:   "check",
			Usage:  "validate the config file and print the resolved settings",
			Action: check,
		},
		{
			Name:    "history",
			Aliases: []string{"h"},
			Usage:   "print recent task runs from the run history store",
			Action:  history,
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, n", Value: 20, Usage: "number of runs to show"},
				cli.BoolFlag{Name: "json", Usage: "print JSON lines"},
			},
		},
	}
	app.Action = run
	return app
}
