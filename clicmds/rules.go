package clicmds

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin"
)

// Rules lists the rules a scan with the same flags would run
func Rules(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	registry, err := plugin.LoadRules(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tENABLED\tCWE\tWASC\n")
	for _, d := range registry.Descriptors() {
		cwe, wasc := "-", "-"
		if describer, ok := d.Rule.(pscan.Describer); ok {
			check := describer.Check()
			cwe, wasc = fmt.Sprint(check.CWE), fmt.Sprint(check.WASC)
		}
		fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\n", d.ID, d.Name, d.Enabled, cwe, wasc)
	}
	return w.Flush()
}
