package scanner

import (
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
)

// ScopeService decides which captured exchanges get scanned
// TODO: support ports and schemes in scope entries
type ScopeService struct {
	allowed      []string
	ignored      []string
	excluded     []string
	excludedURIs []string
}

// NewScopeService with no restrictions, every host is in scope until
// AddScope is called with pscan.InScope
func NewScopeService() *ScopeService {
	return &ScopeService{
		allowed:      make([]string, 0),
		ignored:      make([]string, 0),
		excluded:     make([]string, 0),
		excludedURIs: make([]string, 0),
	}
}

// NewScopeServiceFromConfig builds the scope from the configured host lists
func NewScopeServiceFromConfig(cfg *pscan.Config) *ScopeService {
	s := NewScopeService()
	s.AddScope(cfg.AllowedHosts, pscan.InScope)
	s.AddScope(cfg.IgnoredHosts, pscan.OutOfScope)
	s.AddScope(cfg.ExcludedHosts, pscan.ExcludedFromScope)
	s.AddExcludedURIs(cfg.ExcludedURIs)
	return s
}

// AddScope to the scope service
func (s *ScopeService) AddScope(inputs []string, scope pscan.Scope) {
	if len(inputs) == 0 {
		return
	}
	lowered := mapFunction(inputs, strings.ToLower)

	switch scope {
	case pscan.InScope:
		s.allowed = append(s.allowed, lowered...)
	case pscan.OutOfScope:
		s.ignored = append(s.ignored, lowered...)
	case pscan.ExcludedFromScope:
		s.excluded = append(s.excluded, lowered...)
	}
}

// AddExcludedURIs paths that are never scanned
func (s *ScopeService) AddExcludedURIs(inputs []string) {
	for _, input := range inputs {
		if strings.HasPrefix(input, "http") {
			u, err := url.Parse(input)
			if err != nil {
				log.Warn().Err(err).Msg("failed to add URI to exclusion list")
				continue
			}
			s.excludedURIs = append(s.excludedURIs, strings.ToLower(u.Path))
		} else {
			s.excludedURIs = append(s.excludedURIs, strings.ToLower(input))
		}
	}
}

// Check a url to see if it's in scope
func (s *ScopeService) Check(uri string) pscan.Scope {
	lowered := strings.ToLower(uri)
	host := ""

	if strings.HasPrefix(lowered, "http") {
		u, err := url.Parse(lowered)
		if err != nil {
			log.Warn().Err(err).Str("uri", lowered).Msg("failed to parse URI returning out of scope")
			return pscan.OutOfScope
		}
		host = u.Hostname()
		lowered = u.Path
	} else if strings.HasPrefix(lowered, "//") {
		u, err := url.Parse("http:" + lowered)
		if err != nil {
			log.Warn().Err(err).Str("uri", lowered).Msg("failed to parse URI returning out of scope")
			return pscan.OutOfScope
		}
		host = u.Hostname()
		lowered = u.Path
	} else if !strings.HasPrefix(lowered, "/") {
		lowered = "/" + lowered
	}
	return s.CheckRelative(host, lowered)
}

// CheckRelative hosts to see if it's in scope
// First we check if excluded, then we check if it's ignored,
// then we check if the uri is excluded and finally if it's allowed
func (s *ScopeService) CheckRelative(host, relative string) pscan.Scope {
	if includeFunction(s.excluded, host) {
		return pscan.ExcludedFromScope
	} else if includeFunction(s.ignored, host) {
		return pscan.OutOfScope
	} else if includeFunction(s.excludedURIs, relative) {
		return pscan.ExcludedFromScope
	} else if len(s.allowed) == 0 || includeFunction(s.allowed, host) {
		return pscan.InScope
	}
	return pscan.OutOfScope
}

func mapFunction(vs []string, f func(string) string) []string {
	vsm := make([]string, len(vs))
	for i, v := range vs {
		vsm[i] = f(v)
	}
	return vsm
}

func indexFunction(vs []string, t string) int {
	for i, v := range vs {
		if v == t {
			return i
		}
	}
	return -1
}

func includeFunction(vs []string, t string) bool {
	return indexFunction(vs, t) >= 0
}
