package pipeline_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjaus/tabexport/pipeline"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newSigner(t *testing.T) *pipeline.Signer {
	t.Helper()
	s, err := pipeline.NewSigner(testSecret)
	require.NoError(t, err)
	return s
}

func TestNewSigner(t *testing.T) {
	t.Parallel()
	_, err := pipeline.NewSigner("short")
	require.Error(t, err)

	random, err := pipeline.NewSigner("")
	require.NoError(t, err)
	nonce, err := random.IssueNonce(time.Minute)
	require.NoError(t, err)
	assert.NoError(t, random.VerifyNonce(nonce))
	assert.Error(t, newSigner(t).VerifyNonce(nonce))
}

func TestNonce(t *testing.T) {
	t.Parallel()
	s := newSigner(t)
	nonce, err := s.IssueNonce(time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.VerifyNonce(nonce))

	other, err := pipeline.NewSigner("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)
	foreign, err := other.IssueNonce(time.Minute)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":       "",
		"garbage":     "not-a-token",
		"foreign key": foreign,
	}
	for name, token := range tests {
		token := token
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, s.VerifyNonce(token), pipeline.ErrIntegrityCheckFailed)
		})
	}
}

func TestNonceIsNotADownloadToken(t *testing.T) {
	t.Parallel()
	s := newSigner(t)
	nonce, err := s.IssueNonce(time.Minute)
	require.NoError(t, err)
	_, err = s.ParseDownload(nonce)
	assert.ErrorIs(t, err, pipeline.ErrInvalidDownload)

	token, err := s.IssueDownload(pipeline.DownloadClaims{File: "f.csv"}, time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, s.VerifyNonce(token), pipeline.ErrIntegrityCheckFailed)
}

func TestDownloadToken(t *testing.T) {
	t.Parallel()
	s := newSigner(t)
	token, err := s.IssueDownload(pipeline.DownloadClaims{
		File:     "abc.csv",
		Filename: "forminator-contact-240102030405.csv",
		MIMEType: "text/csv; charset=UTF-8",
		Format:   "csv",
		FormID:   7,
	}, time.Minute)
	require.NoError(t, err)

	c, err := s.ParseDownload(token)
	require.NoError(t, err)
	assert.Equal(t, "abc.csv", c.File)
	assert.Equal(t, "forminator-contact-240102030405.csv", c.Filename)
	assert.Equal(t, "text/csv; charset=UTF-8", c.MIMEType)
	assert.Equal(t, 7, c.FormID)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "tabexport", c.Issuer)
}

func TestDownloadTokenRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()
	claims := pipeline.DownloadClaims{
		File: "abc.csv",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tabexport",
			Subject:   "download",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = newSigner(t).ParseDownload(token)
	assert.ErrorIs(t, err, pipeline.ErrInvalidDownload)

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = newSigner(t).ParseDownload(token)
	assert.ErrorIs(t, err, pipeline.ErrInvalidDownload)
}

func TestDownloadTokenWithoutFile(t *testing.T) {
	t.Parallel()
	s := newSigner(t)
	token, err := s.IssueDownload(pipeline.DownloadClaims{}, time.Minute)
	require.NoError(t, err)
	_, err = s.ParseDownload(token)
	assert.ErrorIs(t, err, pipeline.ErrInvalidDownload)
	assert.True(t, strings.Contains(err.Error(), "no file"))
}

func TestNonceAuthorizer(t *testing.T) {
	t.Parallel()
	s := newSigner(t)
	a := pipeline.NonceAuthorizer{Signer: s}
	ctx := context.Background()

	assert.False(t, a.CanExport(ctx))
	assert.True(t, a.CanExport(pipeline.WithCaller(ctx, true)))
	assert.False(t, a.CanExport(pipeline.WithCaller(ctx, false)))

	nonce, err := s.IssueNonce(time.Minute)
	require.NoError(t, err)
	assert.True(t, a.VerifyNonce(ctx, nonce))
	assert.False(t, a.VerifyNonce(ctx, "bad"))
	assert.False(t, pipeline.NonceAuthorizer{}.VerifyNonce(ctx, nonce))
}
