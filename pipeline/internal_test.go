package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpiry(t *testing.T) {
	t.Parallel()
	s, err := NewSigner("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	nonce, err := s.IssueNonce(time.Minute)
	require.NoError(t, err)
	download, err := s.IssueDownload(DownloadClaims{File: "x.csv"}, time.Minute)
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	require.NoError(t, s.VerifyNonce(nonce))
	_, err = s.ParseDownload(download)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	assert.ErrorIs(t, s.VerifyNonce(nonce), ErrIntegrityCheckFailed)
	_, err = s.ParseDownload(download)
	assert.ErrorIs(t, err, ErrInvalidDownload)
}

func TestValidName(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		name string
		want bool
	}{
		"uuid csv":   {name: "0b7d5c3e-9d59-4b8e-8a57-3b1c5d0a9e11.csv", want: true},
		"no ext":     {name: "0b7d5c3e-9d59-4b8e-8a57-3b1c5d0a9e11", want: false},
		"empty ext":  {name: "0b7d5c3e-9d59-4b8e-8a57-3b1c5d0a9e11.", want: false},
		"not a uuid": {name: "report.csv", want: false},
		"marker":     {name: ".htaccess", want: false},
		"traversal":  {name: "../0b7d5c3e-9d59-4b8e-8a57-3b1c5d0a9e11.csv", want: false},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, validName(tt.name))
		})
	}
}
