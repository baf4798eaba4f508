package clicmds

import (
	"io/ioutil"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gitlab.com/pscanner/pscan"
)

// fileConfig is the TOML layout of a scan configuration file
type fileConfig struct {
	Workers       int      `toml:"workers"`
	QueueCapacity int      `toml:"queue_capacity"`
	Admission     string   `toml:"admission"`
	RuleTimeout   string   `toml:"rule_timeout"`
	ShutdownGrace string   `toml:"shutdown_grace"`
	DedupWindow   string   `toml:"dedup_window"`
	DedupSize     int      `toml:"dedup_size"`
	ReportSize    int      `toml:"report_size"`
	AllowedHosts  []string `toml:"allowed_hosts"`
	IgnoredHosts  []string `toml:"ignored_hosts"`
	ExcludedHosts []string `toml:"excluded_hosts"`
	ExcludedURIs  []string `toml:"excluded_uris"`
	DataPath      string   `toml:"data_path"`
	Wordlist      string   `toml:"wordlist"`
	Scripts       []string `toml:"scripts"`
	DisabledRules []int    `toml:"disabled_rules"`
	NATSURL       string   `toml:"nats_url"`
	NATSSubject   string   `toml:"nats_subject"`
}

// LoadConfigFile reads a TOML config file over the defaults
func LoadConfigFile(path string) (*pscan.Config, error) {
	cfg := pscan.NewConfig()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	file := &fileConfig{}
	if err := toml.NewDecoder(strings.NewReader(string(data))).Decode(file); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}

	if err := file.apply(cfg); err != nil {
		return nil, errors.Wrapf(err, "in %s", path)
	}
	return cfg, nil
}

func (f *fileConfig) apply(cfg *pscan.Config) error {
	if f.Workers != 0 {
		cfg.Workers = f.Workers
	}
	if f.QueueCapacity != 0 {
		cfg.QueueCapacity = f.QueueCapacity
	}
	if f.Admission != "" {
		policy, err := parseAdmission(f.Admission)
		if err != nil {
			return err
		}
		cfg.Admission = policy
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"rule_timeout", f.RuleTimeout, &cfg.RuleTimeout},
		{"shutdown_grace", f.ShutdownGrace, &cfg.ShutdownGrace},
		{"dedup_window", f.DedupWindow, &cfg.DedupWindow},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", d.name)
		}
		*d.dst = parsed
	}

	if f.DedupSize != 0 {
		cfg.DedupSize = f.DedupSize
	}
	if f.ReportSize != 0 {
		cfg.ReportSize = f.ReportSize
	}
	cfg.AllowedHosts = append(cfg.AllowedHosts, f.AllowedHosts...)
	cfg.IgnoredHosts = append(cfg.IgnoredHosts, f.IgnoredHosts...)
	cfg.ExcludedHosts = append(cfg.ExcludedHosts, f.ExcludedHosts...)
	cfg.ExcludedURIs = append(cfg.ExcludedURIs, f.ExcludedURIs...)
	if f.DataPath != "" {
		cfg.DataPath = f.DataPath
	}
	if f.Wordlist != "" {
		cfg.Wordlist = f.Wordlist
	}
	cfg.Scripts = append(cfg.Scripts, f.Scripts...)
	cfg.DisabledRules = append(cfg.DisabledRules, f.DisabledRules...)
	if f.NATSURL != "" {
		cfg.NATSURL = f.NATSURL
	}
	if f.NATSSubject != "" {
		cfg.NATSSubject = f.NATSSubject
	}
	return nil
}

func parseAdmission(name string) (pscan.AdmissionPolicy, error) {
	switch strings.ToLower(name) {
	case "block":
		return pscan.Block, nil
	case "reject":
		return pscan.Reject, nil
	}
	return pscan.Block, errors.Errorf("unknown admission policy %q", name)
}

// loadConfig from --config (if any) with explicitly set flags taking precedence
func loadConfig(ctx *cli.Context) (*pscan.Config, error) {
	cfg := pscan.NewConfig()
	if path := ctx.String("config"); path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return nil, err
		}
	}

	if dir := ctx.String("datadir"); dir != "" && (ctx.IsSet("datadir") || ctx.String("config") == "") {
		cfg.DataPath = dir
	}
	if ctx.IsSet("wordlist") {
		cfg.Wordlist = ctx.String("wordlist")
	}
	cfg.Scripts = append(cfg.Scripts, ctx.StringSlice("script")...)
	cfg.DisabledRules = append(cfg.DisabledRules, ctx.IntSlice("disable")...)

	// scan only flags
	if ctx.IsSet("workers") {
		cfg.Workers = ctx.Int("workers")
	}
	if ctx.IsSet("queue") {
		cfg.QueueCapacity = ctx.Int("queue")
	}
	if ctx.Bool("reject") {
		cfg.Admission = pscan.Reject
	}
	if ctx.IsSet("rule-timeout") {
		cfg.RuleTimeout = ctx.Duration("rule-timeout")
	}
	if ctx.IsSet("grace") {
		cfg.ShutdownGrace = ctx.Duration("grace")
	}
	if ctx.IsSet("dedup-window") {
		cfg.DedupWindow = ctx.Duration("dedup-window")
	}
	if ctx.IsSet("report-size") {
		cfg.ReportSize = ctx.Int("report-size")
	}
	cfg.AllowedHosts = append(cfg.AllowedHosts, ctx.StringSlice("allow-host")...)
	cfg.ExcludedHosts = append(cfg.ExcludedHosts, ctx.StringSlice("exclude-host")...)
	if ctx.IsSet("nats-url") {
		cfg.NATSURL = ctx.String("nats-url")
	}
	if ctx.IsSet("nats-subject") {
		cfg.NATSSubject = ctx.String("nats-subject")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
