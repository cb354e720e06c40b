package federation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		name, server, version string
		want                  string
		wantErr               bool
	}{
		{name: "build metadata", server: "Synapse", version: "1.6.1 (abcd,branch)", want: "Synapse/1.6.1"},
		{name: "plain", server: "Dendrite", version: "0.5.0", want: "Dendrite/0.5.0"},
		{name: "leading space", server: "conduit", version: "  0.4.0-next", want: "conduit/0.4.0-next"},
		{name: "blank", server: "Synapse", version: "   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeVersion(tt.server, tt.version)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrEmptyVersion)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestFetch(t *testing.T) {
	client := newHTTPSFixture(t, federationHandler)
	f := NewFetcher(client)
	ctx := context.Background()

	got, err := f.Fetch(ctx, Resolution{Authority: "matrix.org:8448", Host: "matrix.org", Method: MethodSRV})
	require.NoError(t, err)
	require.Equal(t, "Synapse/1.6.1", got)

	// without the virtual host the server refuses
	_, err = f.Fetch(ctx, Resolution{Authority: "matrix.org:8448", Method: MethodFallback})
	require.ErrorIs(t, err, ErrStatus)

	_, err = f.Fetch(ctx, Fallback("noversion.example"))
	require.ErrorIs(t, err, ErrNoVersion)
}

func TestFetchTimeout(t *testing.T) {
	client := newHTTPSFixture(t, federationHandler)
	_, err := NewFetcher(client).Fetch(context.Background(), Fallback("slow.example"))
	require.Error(t, err)
}
