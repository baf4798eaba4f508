package headers

import (
	"context"
	"strings"
	"time"
	"unicode"

	"gitlab.com/pscanner/pscan"
)

var disclosingHeaders = []string{"Server", "X-Powered-By", "X-AspNet-Version", "X-AspNetMvc-Version"}

var check = &pscan.RuleCheck{
	CWE:         200,
	WASC:        13,
	Name:        "Server leaks version information via response headers",
	Description: "The web/application server is leaking version information via one or more HTTP response headers. Access to such information may help attackers identify other vulnerabilities the server is subject to.",
	Solution:    "Configure the server to suppress version details in the Server, X-Powered-By and similar response headers.",
}

// Rule flags response headers that disclose product versions
type Rule struct {
}

// New header rule
func New() *Rule {
	return &Rule{}
}

// Name of the rule
func (h *Rule) Name() string {
	return check.Name
}

// ID unique to pscanner
func (h *Rule) ID() int {
	return 10036
}

// Check this rule reports
func (h *Rule) Check() *pscan.RuleCheck {
	return check
}

// Evaluate emits one finding per disclosing header that carries a version
func (h *Rule) Evaluate(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	if exchange.Response == nil || exchange.Response.Headers == nil {
		return nil, nil
	}

	var findings []*pscan.Finding
	for _, name := range disclosingHeaders {
		for _, value := range exchange.Response.Headers.Values(name) {
			if !hasVersion(value) {
				continue
			}
			findings = append(findings, &pscan.Finding{
				RuleID:      h.ID(),
				RuleName:    check.Name,
				Severity:    pscan.SeverityLow,
				Confidence:  pscan.ConfidenceHigh,
				Description: check.Description,
				Solution:    check.Solution,
				URI:         exchange.URI(),
				Evidence:    value,
				ExchangeID:  exchange.ID,
				CWE:         check.CWE,
				WASC:        check.WASC,
				Observed:    time.Now(),
			})
			break
		}
	}
	return findings, nil
}

func hasVersion(value string) bool {
	return strings.IndexFunc(value, unicode.IsDigit) >= 0
}
