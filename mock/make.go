package mock

import (
	"fmt"
	"net/http"
	"time"

	"gitlab.com/pscanner/pscan"
)

func MakeMockConfig() *pscan.Config {
	cfg := pscan.NewConfig()
	cfg.Workers = 4
	cfg.QueueCapacity = 16
	cfg.RuleTimeout = time.Second * 2
	cfg.ShutdownGrace = time.Second * 5
	cfg.DedupWindow = time.Minute
	cfg.DedupSize = 1024
	cfg.ReportSize = 1024
	return cfg
}

func MakeMockExchanges(n int) []*pscan.Exchange {
	e := make([]*pscan.Exchange, 0, n)
	for i := 0; i < n; i++ {
		headers := http.Header{}
		headers.Set("Content-Type", "text/html")
		e = append(e, pscan.NewExchange(
			&pscan.Request{
				Method:  "GET",
				URI:     fmt.Sprintf("http://example.com/%d", i+1),
				Headers: http.Header{"Accept": []string{"*/*"}},
			},
			&pscan.Response{
				StatusCode:  200,
				Headers:     headers,
				ContentType: "text/html",
				Body:        []byte(fmt.Sprintf("<html>page %d</html>", i+1)),
			},
		))
	}
	return e
}
