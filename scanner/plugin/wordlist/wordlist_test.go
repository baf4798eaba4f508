package wordlist_test

import (
	"errors"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"testing"

	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin/wordlist"
)

func TestParse(t *testing.T) {
	input := "# comment\n" +
		"Internal Server Error\n" +
		"\n" +
		"   \t \n" +
		"  Stack Trace At  \n" +
		"  # indented comment\n" +
		"#internal server error\n"

	words, err := wordlist.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("error parsing: %s\n", err)
	}

	expected := []string{"internal server error", "stack trace at"}
	if len(words) != len(expected) {
		t.Fatalf("expected %v got %v\n", expected, words)
	}

	for i := range expected {
		if words[i] != expected[i] {
			t.Fatalf("%d: expected %q got %q\n", i, expected[i], words[i])
		}
	}
}

func TestLazyMissing(t *testing.T) {
	l := wordlist.NewLazy("testdata/does-not-exist.txt", wordlist.FileOpener("testdata/does-not-exist.txt"))

	for i := 0; i < 5; i++ {
		words, err := l.Words()
		if len(words) != 0 {
			t.Fatalf("expected no words got %v\n", words)
		}

		var rle *pscan.ResourceLoadError
		if !errors.As(err, &rle) {
			t.Fatalf("expected resource load error got %v\n", err)
		}

		if !os.IsNotExist(errors.Unwrap(err)) {
			t.Fatalf("expected not exist cause got %v\n", errors.Unwrap(err))
		}
	}

	if l.Attempts() != 1 {
		t.Fatalf("expected exactly one load attempt got %d\n", l.Attempts())
	}
}

func TestLazySingleFlight(t *testing.T) {
	var lock sync.Mutex
	opens := 0
	start := make(chan struct{})

	l := wordlist.NewLazy("mem", func() (io.ReadCloser, error) {
		lock.Lock()
		opens++
		lock.Unlock()
		return ioutil.NopCloser(strings.NewReader("a\nb\nc\n")), nil
	})

	wg := &sync.WaitGroup{}
	results := make([][]string, 32)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _ = l.Words()
		}(i)
	}
	close(start)
	wg.Wait()

	if opens != 1 {
		t.Fatalf("expected one open got %d\n", opens)
	}

	if l.Attempts() != 1 {
		t.Fatalf("expected one attempt got %d\n", l.Attempts())
	}

	for i, words := range results {
		if len(words) != 3 {
			t.Fatalf("caller %d saw partial state %v\n", i, words)
		}
	}
}
