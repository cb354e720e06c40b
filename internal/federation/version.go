package federation

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNoServerInfo = errors.New("version response has no server object")
	ErrNoName       = errors.New("version response has no server.name")
	ErrNoVersion    = errors.New("version response has no server.version")
	ErrEmptyVersion = errors.New("server.version is blank")
)

// Fetcher asks a resolved homeserver for its software name and version.
type Fetcher struct {
	client *http.Client
}

func NewFetcher(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch queries /_matrix/federation/v1/version and returns "name/version".
func (f *Fetcher) Fetch(ctx context.Context, res Resolution) (string, error) {
	var body struct {
		Server *struct {
			Name    *string `json:"name"`
			Version *string `json:"version"`
		} `json:"server"`
	}
	if err := getJSON(ctx, f.client, "https://"+res.Authority+versionPath, res.Header(), &body); err != nil {
		return "", errors.Wrap(err, "version")
	}
	switch {
	case body.Server == nil:
		return "", ErrNoServerInfo
	case body.Server.Name == nil:
		return "", ErrNoName
	case body.Server.Version == nil:
		return "", ErrNoVersion
	}
	return NormalizeVersion(*body.Server.Name, *body.Server.Version)
}

// NormalizeVersion keeps the first whitespace token of version, dropping
// build metadata such as "1.6.1 (b=master,abcd)".
func NormalizeVersion(name, version string) (string, error) {
	fields := strings.Fields(version)
	if len(fields) == 0 {
		return "", ErrEmptyVersion
	}
	return name + "/" + fields[0], nil
}
