package store

import (
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	uuid "github.com/satori/go.uuid"
	"gitlab.com/pscanner/pscan"
)

// AlertStore persists findings in badger, keyed by the finding's natural key
// so re-submitted findings are only stored once
type AlertStore struct {
	Store    *badger.DB
	RunID    string
	filepath string
}

var _ pscan.AlertStorer = &AlertStore{}

// NewAlertStore for finding storage
func NewAlertStore(filepath string) *AlertStore {
	return &AlertStore{filepath: filepath}
}

// Init the alert storage
func (s *AlertStore) Init() error {
	var err error

	if err = os.MkdirAll(s.filepath, 0766); err != nil {
		return err
	}

	opts := badger.DefaultOptions(s.filepath).WithLogger(&badgerLogger{})
	s.Store, err = badger.Open(opts)

	if errors.Is(err, badger.ErrTruncateNeeded) {
		log.Warn().Msg("there was a failure re-opening database, trying to recover")
		opts.Truncate = true
		s.Store, err = badger.Open(opts)
	}

	if err != nil {
		return errors.Wrapf(err, "opening alert store at %s", s.filepath)
	}

	s.RunID = uuid.NewV4().String()
	log.Info().Str("path", s.filepath).Str("run_id", s.RunID).Msg("alert store opened")
	return nil
}

// Append a finding, findings already stored are ignored
func (s *AlertStore) Append(finding *pscan.Finding) error {
	key := FindingKey(finding)
	return s.Store.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		val, err := EncodeFinding(s.RunID, finding)
		if err != nil {
			return errors.Wrap(err, "encoding finding")
		}
		return txn.Set(key, val)
	})
}

// Findings stored by every run
func (s *AlertStore) Findings() ([]*StoredFinding, error) {
	found := make([]*StoredFinding, 0)
	err := s.Store.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(findingPredicate + ":"), PrefetchValues: true, PrefetchSize: 100})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			stored, err := DecodeFinding(val)
			if err != nil {
				return errors.Wrapf(err, "decoding finding %s", FindingHash(item.KeyCopy(nil)))
			}
			found = append(found, stored)
		}
		return nil
	})
	return found, err
}

// Close the alert store
func (s *AlertStore) Close() error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Close()
}

// badgerLogger sends badger's own logging through zerolog
type badgerLogger struct{}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	log.Error().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	log.Warn().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Infof(f string, v ...interface{}) {
	log.Debug().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}

func (l *badgerLogger) Debugf(f string, v ...interface{}) {
	log.Trace().Str("component", "badger").Msgf(strings.TrimSpace(f), v...)
}
