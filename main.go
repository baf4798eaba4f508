package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gitlab.com/pscanner/clicmds"
)

func main() {
	app := cli.NewApp()
	app.Name = "pscan"
	app.Version = "0.1"
	app.Usage = "Passively scan captured HTTP traffic for information disclosure"
	app.Flags = clicmds.GlobalFlags()
	app.Before = clicmds.SetupLogging
	app.Commands = []*cli.Command{
		{
			Name:      "scan",
			Aliases:   []string{"s"},
			Usage:     "scan HAR captures",
			ArgsUsage: "capture.har [capture.har...]",
			Action:    clicmds.Scan,
			Flags:     clicmds.ScanFlags(),
		},
		{
			Name:    "dbview",
			Aliases: []string{"db"},
			Usage:   "view stored findings",
			Action:  clicmds.DBView,
			Flags:   clicmds.DBViewFlags(),
		},
		{
			Name:   "rules",
			Usage:  "list passive rules",
			Action: clicmds.Rules,
			Flags:  clicmds.RuleFlags(),
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
