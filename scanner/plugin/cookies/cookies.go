package cookies

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gitlab.com/pscanner/pscan"
)

var check = &pscan.RuleCheck{
	CWE:         1004,
	WASC:        13,
	Name:        "Cookie no HttpOnly flag",
	Description: "A cookie has been set without the HttpOnly flag, which means that the cookie can be accessed by JavaScript.",
	Solution:    "Ensure that the HttpOnly flag is set for all cookies.",
}

// Rule reports Set-Cookie headers missing HttpOnly
type Rule struct {
}

// New cookie rule
func New() *Rule {
	return &Rule{}
}

// Name of the rule
func (h *Rule) Name() string {
	return check.Name
}

// ID unique to pscanner
func (h *Rule) ID() int {
	return 10010
}

// Check this rule reports
func (h *Rule) Check() *pscan.RuleCheck {
	return check
}

// Evaluate the Set-Cookie headers of the response
func (h *Rule) Evaluate(ctx context.Context, exchange *pscan.Exchange) ([]*pscan.Finding, error) {
	if exchange.Response == nil || exchange.Response.Headers == nil {
		return nil, nil
	}

	var findings []*pscan.Finding
	resp := &http.Response{Header: exchange.Response.Headers}
	for _, cookie := range resp.Cookies() {
		if cookie.HttpOnly {
			continue
		}
		findings = append(findings, &pscan.Finding{
			RuleID:      h.ID(),
			RuleName:    check.Name,
			Severity:    pscan.SeverityLow,
			Confidence:  pscan.ConfidenceMedium,
			Description: check.Description,
			Solution:    check.Solution,
			URI:         exchange.URI(),
			Evidence:    setCookieEvidence(exchange.Response.Headers, cookie.Name),
			ExchangeID:  exchange.ID,
			CWE:         check.CWE,
			WASC:        check.WASC,
			Observed:    time.Now(),
		})
	}
	return findings, nil
}

// setCookieEvidence returns the raw header so evidence can be found in the response
func setCookieEvidence(headers http.Header, name string) string {
	for _, raw := range headers.Values("Set-Cookie") {
		if strings.HasPrefix(strings.TrimSpace(raw), name+"=") {
			return "Set-Cookie: " + raw
		}
	}
	return "Set-Cookie: " + name
}
