package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const DefaultServerstatsURL = "https://serverstats.nordgedanken.dev/servers?include_members=true"

// Serverstats fetches the public server list, a JSON document
// {"servers": [...]} served gzip-compressed.
type Serverstats struct {
	Client *http.Client
	URL    string
}

func (s Serverstats) Name() string { return "serverstats" }

func (s Serverstats) Domains(ctx context.Context) ([]string, error) {
	url := s.URL
	if url == "" {
		url = DefaultServerstatsURL
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "serverstats request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "serverstats")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("serverstats: %s", resp.Status)
	}

	body, err := maybeGunzip(bufio.NewReader(resp.Body))
	if err != nil {
		return nil, err
	}
	var doc struct {
		Servers []string `json:"servers"`
	}
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode serverstats")
	}

	return Static(doc.Servers).Domains(ctx)
}

// maybeGunzip unwraps a gzip stream; anything else passes through.
func maybeGunzip(br *bufio.Reader) (io.Reader, error) {
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		return br, nil
	}
	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, errors.Wrap(err, "gunzip serverstats")
	}
	return zr, nil
}
