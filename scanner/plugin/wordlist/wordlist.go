// Package wordlist loads trigger phrase lists used by passive rules.
package wordlist

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"gitlab.com/pscanner/pscan"
)

// Opener returns the raw wordlist resource
type Opener func() (io.ReadCloser, error)

// FileOpener opens a wordlist on disk
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Parse a wordlist. Lines starting with # (after leading whitespace) are
// comments, blank lines are skipped, everything else is trimmed and lowercased.
// Order is preserved.
func Parse(r io.Reader) ([]string, error) {
	words := make([]string, 0)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, strings.ToLower(line))
	}
	return words, scanner.Err()
}

// Lazy loads a wordlist on first use. The load runs exactly once even under
// concurrent callers and its result, including a failure, is cached for the
// lifetime of the Lazy.
type Lazy struct {
	name     string
	open     Opener
	once     sync.Once
	words    []string
	err      error
	attempts int32
}

// NewLazy wordlist named name (used in logs and errors)
func NewLazy(name string, open Opener) *Lazy {
	return &Lazy{name: name, open: open}
}

// Words returns the loaded list. A failed load returns an empty list and a
// *pscan.ResourceLoadError on every call, without touching the resource again.
func (l *Lazy) Words() ([]string, error) {
	l.once.Do(l.load)
	return l.words, l.err
}

// Attempts is the number of times the resource was opened
func (l *Lazy) Attempts() int {
	return int(atomic.LoadInt32(&l.attempts))
}

func (l *Lazy) load() {
	atomic.AddInt32(&l.attempts, 1)
	l.words = make([]string, 0)

	rc, err := l.open()
	if err != nil {
		l.err = &pscan.ResourceLoadError{Resource: l.name, Err: err}
		log.Error().Err(err).Str("wordlist", l.name).Msg("failed to open wordlist, rule will produce no findings")
		return
	}
	defer rc.Close()

	words, err := Parse(rc)
	if err != nil {
		l.err = &pscan.ResourceLoadError{Resource: l.name, Err: err}
		log.Error().Err(err).Str("wordlist", l.name).Msg("failed to read wordlist, rule will produce no findings")
		return
	}
	l.words = words
	log.Debug().Str("wordlist", l.name).Int("entries", len(words)).Msg("wordlist loaded")
}
