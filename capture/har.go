// Package capture turns recorded traffic into exchanges for the scanner
package capture

import (
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"gitlab.com/pscanner/pscan"
)

// ReadHARFile reads every entry of a HAR file
func ReadHARFile(path string) ([]*pscan.Exchange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	exchanges, err := ReadHAR(f)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return exchanges, nil
}

// ReadHAR reads the log entries of a HAR document. Entries without a
// response (status 0, e.g. blocked requests) are skipped.
func ReadHAR(r io.Reader) ([]*pscan.Exchange, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid HAR document")
	}

	entries := gjson.GetBytes(data, "log.entries")
	if !entries.IsArray() {
		return nil, errors.New("HAR document has no log.entries")
	}

	exchanges := make([]*pscan.Exchange, 0)
	for i, entry := range entries.Array() {
		ex, err := entryExchange(entry)
		if err != nil {
			log.Warn().Err(err).Int("entry", i).Msg("skipping HAR entry")
			continue
		}
		if ex == nil {
			continue
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, nil
}

func entryExchange(entry gjson.Result) (*pscan.Exchange, error) {
	status := int(entry.Get("response.status").Int())
	if status == 0 {
		return nil, nil
	}

	req := &pscan.Request{
		Method:  entry.Get("request.method").String(),
		URI:     entry.Get("request.url").String(),
		Headers: headers(entry.Get("request.headers")),
	}
	if req.URI == "" {
		return nil, errors.New("entry has no request url")
	}

	content := entry.Get("response.content")
	body := []byte(content.Get("text").String())
	if content.Get("encoding").String() == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content.Get("text").String())
		if err != nil {
			return nil, errors.Wrap(err, "decoding base64 response body")
		}
		body = decoded
	}

	resp := &pscan.Response{
		StatusCode:  status,
		Headers:     headers(entry.Get("response.headers")),
		Body:        body,
		ContentType: content.Get("mimeType").String(),
	}
	if resp.ContentType == "" {
		resp.ContentType = resp.Headers.Get("Content-Type")
	}

	ex := pscan.NewExchange(req, resp)
	if started, err := time.Parse(time.RFC3339Nano, entry.Get("startedDateTime").String()); err == nil {
		ex.Captured = started
	}
	return ex, nil
}

func headers(list gjson.Result) http.Header {
	h := http.Header{}
	list.ForEach(func(_, header gjson.Result) bool {
		name := header.Get("name").String()
		if name != "" {
			h.Add(name, header.Get("value").String())
		}
		return true
	})
	return h
}
