package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v2"

	"codeberg.org/mutker/powerctl/internal/logger"
)

func main() {
	app := &cli.App{
		Name:        "powerctl",
		Description: "inspect and drive the adaptive power and thermal control daemon",
		Usage:       "query hardware, thermal state and cycle history (use subcommands)",
		Version:     appVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"POWERCTL_CONFIG"},
				Usage:   "path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debugging output",
			},
		},
		Before: func(c *cli.Context) error {
			logger.Init(c.Bool("debug"), false, false)

			return nil
		},
		Commands: []*cli.Command{
			cmdStatus(),
			cmdDetect(),
			cmdSetProfile(),
			cmdThermal(),
			cmdFans(),
			cmdHistory(),
		},
		CommandNotFound: func(c *cli.Context, command string) {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
			cli.ShowAppHelpAndExit(c, 1)
		},
		BashComplete: cli.ShowCompletions,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func appVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return "unknown"
	}

	version := bi.Main.Version
	var rev string
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			rev = s.Value
		}
	}

	if version != "" && version != "(devel)" {
		return version
	}
	if rev != "" {
		return rev
	}

	return "unknown"
}
