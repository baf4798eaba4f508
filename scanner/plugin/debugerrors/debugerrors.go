// Package debugerrors reports responses that leak verbose platform or
// web-server error messages.
package debugerrors

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin/wordlist"
)

const (
	ruleID   = 10023
	ruleName = "Information disclosure - debug error messages"
)

var check = &pscan.RuleCheck{
	CWE:         200,
	WASC:        13,
	Name:        ruleName,
	Description: "The response appeared to contain common error messages returned by platforms such as ASP.NET, and Web-servers such as IIS and Apache. You can configure the list of common debug messages.",
	Solution:    "Disable debugging messages before pushing to production.",
}

// Rule matches response bodies against a list of debug error messages
type Rule struct {
	errors *wordlist.Lazy
}

// New rule reading its wordlist from path on first use
func New(path string) *Rule {
	return NewWithOpener(path, wordlist.FileOpener(path))
}

// NewWithOpener allows the wordlist to come from somewhere other than disk
func NewWithOpener(name string, open wordlist.Opener) *Rule {
	return &Rule{errors: wordlist.NewLazy(name, open)}
}

// ID unique to pscanner
func (r *Rule) ID() int {
	return ruleID
}

// Name of the rule
func (r *Rule) Name() string {
	return ruleName
}

// Check this rule reports
func (r *Rule) Check() *pscan.RuleCheck {
	return check
}

// LoadAttempts is how many times the wordlist was read
func (r *Rule) LoadAttempts() int {
	return r.errors.Attempts()
}

// Evaluate returns at most one finding: the first wordlist entry found in the
// body, with the evidence sliced from the original body so casing is preserved.
func (r *Rule) Evaluate(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	if !exchange.HasTextBody() {
		return nil, nil
	}

	errors, err := r.errors.Words()
	if err != nil {
		// already logged once by the loader
		return nil, nil
	}

	evidence, found := firstMatch(string(exchange.Response.Body), errors)
	if !found {
		return nil, nil
	}

	return []*pscan.Finding{{
		RuleID:      ruleID,
		RuleName:    ruleName,
		Severity:    pscan.SeverityLow,
		Confidence:  pscan.ConfidenceMedium,
		Description: check.Description,
		Solution:    check.Solution,
		URI:         exchange.URI(),
		Evidence:    evidence,
		ExchangeID:  exchange.ID,
		CWE:         check.CWE,
		WASC:        check.WASC,
		Observed:    time.Now(),
	}}, nil
}

// firstMatch tries each (lowercased) phrase in order and returns the original
// case text of the first one that occurs in body.
func firstMatch(body string, phrases []string) (string, bool) {
	if isASCII(body) {
		lowered := lowerASCII(body)
		for _, phrase := range phrases {
			if start := strings.Index(lowered, phrase); start >= 0 {
				return body[start : start+len(phrase)], true
			}
		}
		return "", false
	}

	// lowercasing non-ascii text may change its byte length, so compare rune by
	// rune to keep offsets into the original body
	for _, phrase := range phrases {
		if start, end := indexFold(body, phrase); start >= 0 {
			return body[start:end], true
		}
	}
	return "", false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func lowerASCII(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}

// indexFold finds lowered phrase in s ignoring case, returning byte offsets in s
func indexFold(s, phrase string) (int, int) {
	if phrase == "" {
		return -1, -1
	}
	for i := 0; i < len(s); {
		if end, ok := matchFoldAt(s, i, phrase); ok {
			return i, end
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, -1
}

func matchFoldAt(s string, i int, phrase string) (int, bool) {
	j := i
	for _, want := range phrase {
		if j >= len(s) {
			return 0, false
		}
		got, size := utf8.DecodeRuneInString(s[j:])
		if unicode.ToLower(got) != want {
			return 0, false
		}
		j += size
	}
	return j, true
}
