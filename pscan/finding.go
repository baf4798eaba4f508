package pscan

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/twmb/murmur3"
)

// Severity of a finding
type Severity int8

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
)

var severityNames = map[Severity]string{
	SeverityInfo:   "informational",
	SeverityLow:    "low",
	SeverityMedium: "medium",
	SeverityHigh:   "high",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// Confidence a rule has in its finding
type Confidence int8

const (
	ConfidenceLow Confidence = iota + 1
	ConfidenceMedium
	ConfidenceHigh
	ConfidenceConfirmed
)

var confidenceNames = map[Confidence]string{
	ConfidenceLow:       "low",
	ConfidenceMedium:    "medium",
	ConfidenceHigh:      "high",
	ConfidenceConfirmed: "confirmed",
}

func (c Confidence) String() string {
	if name, ok := confidenceNames[c]; ok {
		return name
	}
	return "unknown"
}

// Finding is the result of a rule match. Findings are immutable once
// returned from a Rule.
type Finding struct {
	RuleID      int        `msgpack:"rule_id" json:"rule_id"`
	RuleName    string     `msgpack:"rule_name" json:"rule_name"`
	Severity    Severity   `msgpack:"severity" json:"severity"`
	Confidence  Confidence `msgpack:"confidence" json:"confidence"`
	Description string     `msgpack:"description" json:"description"`
	Solution    string     `msgpack:"solution" json:"solution"`
	URI         string     `msgpack:"uri" json:"uri"`
	Evidence    string     `msgpack:"evidence" json:"evidence"` // exact matched text, original casing
	ExchangeID  uint64     `msgpack:"exchange_id" json:"exchange_id"`
	CWE         int        `msgpack:"cwe" json:"cwe"`
	WASC        int        `msgpack:"wasc" json:"wasc"`
	Observed    time.Time  `msgpack:"observed" json:"observed"`
}

// Key is the natural key of a finding: exchange id, rule id and evidence
func (f *Finding) Key() string {
	return strconv.FormatUint(f.ExchangeID, 10) + ":" + strconv.Itoa(f.RuleID) + ":" + f.Evidence
}

// Hash of the natural key, hex encoded 128 bit murmur3
func (f *Finding) Hash() string {
	h1, h2 := murmur3.Sum128([]byte(f.Key()))
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], h1)
	binary.BigEndian.PutUint64(b[8:], h2)
	return hex.EncodeToString(b)
}

// ParseSeverity from its name, as used by scripted rules
func ParseSeverity(name string) (Severity, bool) {
	for s, n := range severityNames {
		if strings.EqualFold(n, name) {
			return s, true
		}
	}
	if strings.EqualFold(name, "info") {
		return SeverityInfo, true
	}
	return SeverityInfo, false
}

// ParseConfidence from its name
func ParseConfidence(name string) (Confidence, bool) {
	for c, n := range confidenceNames {
		if strings.EqualFold(n, name) {
			return c, true
		}
	}
	return ConfidenceLow, false
}
