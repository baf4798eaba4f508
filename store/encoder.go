package store

import (
	"bytes"
	"time"

	"github.com/vmihailenco/msgpack/v4"
	"gitlab.com/pscanner/pscan"
)

const findingPredicate = "finding"

// StoredFinding is a finding as written to the alert store
type StoredFinding struct {
	RunID   string         `msgpack:"run_id"`
	Stored  time.Time      `msgpack:"stored"`
	Finding *pscan.Finding `msgpack:"finding"`
}

// MakeKey of a predicate and id
func MakeKey(id []byte, predicate string) []byte {
	key := []byte(predicate)
	key = append(key, byte(':'))
	key = append(key, id...)
	return key
}

// FindingHash is the natural key a finding was stored under, empty when key
// does not belong to a finding
func FindingHash(key []byte) string {
	hash, ok := bytes.CutPrefix(key, []byte(findingPredicate+":"))
	if !ok {
		return ""
	}
	return string(hash)
}

// FindingKey is the store key of a finding, derived from its natural key
func FindingKey(finding *pscan.Finding) []byte {
	return MakeKey([]byte(finding.Hash()), findingPredicate)
}

// EncodeFinding for storage
func EncodeFinding(runID string, finding *pscan.Finding) ([]byte, error) {
	return msgpack.Marshal(&StoredFinding{RunID: runID, Stored: time.Now(), Finding: finding})
}

// DecodeFinding from storage
func DecodeFinding(val []byte) (*StoredFinding, error) {
	stored := &StoredFinding{}
	if err := msgpack.Unmarshal(val, stored); err != nil {
		return nil, err
	}
	return stored, nil
}
