package plugin

import (
	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin/cookies"
	"gitlab.com/pscanner/scanner/plugin/debugerrors"
	"gitlab.com/pscanner/scanner/plugin/headers"
)

// LoadRules creates a registry with the builtin passive rules followed by the
// configured JS rules, then disables any rule ids the config lists. Scripts
// that fail to load are logged and skipped.
func LoadRules(cfg *pscan.Config) (*Registry, error) {
	r := NewRegistry()
	if err := importRules(r, cfg); err != nil {
		return nil, err
	}

	for _, script := range cfg.Scripts {
		js := NewJSRuleFromFile(script)
		if err := js.Init(); err != nil {
			log.Error().Err(err).Str("file", script).Msg("failed to load js rule, skipping")
			continue
		}
		if err := r.Register(js); err != nil {
			log.Error().Err(err).Str("file", script).Msg("failed to register js rule, skipping")
			continue
		}
		log.Info().Int("id", js.ID()).Str("name", js.Name()).Msg("loaded js rule")
	}

	for _, id := range cfg.DisabledRules {
		if err := r.Disable(id); err != nil {
			log.Warn().Err(err).Int("id", id).Msg("can not disable rule")
		}
	}
	return r, nil
}

func importRules(r *Registry, cfg *pscan.Config) error {
	for _, rule := range []pscan.Rule{
		debugerrors.New(cfg.Wordlist),
		headers.New(),
		cookies.New(),
	} {
		if err := r.Register(rule); err != nil {
			return err
		}
	}
	return nil
}
