package clicmds

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/store"
)

func DBViewFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory",
			Value: "pscantmp",
		},
		&cli.IntFlag{
			Name:  "rule",
			Usage: "only print findings of this rule id",
			Value: 0,
		},
		&cli.StringFlag{
			Name:  "severity",
			Usage: "only print findings of at least this severity",
			Value: "informational",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print findings as json lines",
			Value: false,
		},
	}
}

// DBView prints the findings persisted in the alert store
func DBView(ctx *cli.Context) error {
	minSeverity, ok := pscan.ParseSeverity(ctx.String("severity"))
	if !ok {
		return fmt.Errorf("unknown severity %q", ctx.String("severity"))
	}

	alerts := store.NewAlertStore(filepath.Join(ctx.String("datadir"), "alerts"))
	if err := alerts.Init(); err != nil {
		log.Error().Err(err).Msg("failed to init database for viewing")
		return err
	}
	defer alerts.Close()

	results, err := alerts.Findings()
	if err != nil {
		return err
	}

	filtered := make([]*store.StoredFinding, 0, len(results))
	for _, stored := range results {
		f := stored.Finding
		if f == nil || f.Severity < minSeverity {
			continue
		}
		if rule := ctx.Int("rule"); rule != 0 && f.RuleID != rule {
			continue
		}
		filtered = append(filtered, stored)
	}

	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i].Finding, filtered[j].Finding
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return filtered[i].Stored.Before(filtered[j].Stored)
	})

	if ctx.Bool("json") {
		enc := json.NewEncoder(ctx.App.Writer)
		for _, stored := range filtered {
			if err := enc.Encode(stored.Finding); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Fprintf(ctx.App.Writer, "Had %d findings\n", len(filtered))
	w := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	for _, stored := range filtered {
		f := stored.Finding
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%q\t%s\n", f.RuleID, f.Severity, f.Confidence, f.URI, f.Evidence, stored.RunID)
	}
	return w.Flush()
}
