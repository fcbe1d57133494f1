package repo

import (
	"io"
	"net/http"
	"strings"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

// newTestAPI points an EveBoxAPI at rt instead of the network.
func newTestAPI(cfg EveBoxConfig, rt roundTripFunc) *EveBoxAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://evebox.example/base/"
	}
	api := NewEveBoxAPI(cfg, nil)
	api.httpClient = newTestClient(rt)
	return api
}

func jsonResponse(status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     header,
	}
}
