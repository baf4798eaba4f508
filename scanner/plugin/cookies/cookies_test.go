package cookies_test

import (
	"context"
	"net/http"
	"testing"

	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/scanner/plugin/cookies"
)

func TestCookies(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "session=abc; Path=/; HttpOnly; Secure")
	h.Add("Set-Cookie", "tracking=xyz; Path=/")

	ex := pscan.NewExchange(&pscan.Request{URI: "http://example.com"}, &pscan.Response{Headers: h})
	findings, err := cookies.New().Evaluate(context.Background(), ex)
	if err != nil {
		t.Fatalf("error evaluating: %s\n", err)
	}

	if len(findings) != 1 {
		t.Fatalf("expected 1 finding got %d\n", len(findings))
	}

	if findings[0].Evidence != "Set-Cookie: tracking=xyz; Path=/" {
		t.Fatalf("unexpected evidence %q\n", findings[0].Evidence)
	}
}
