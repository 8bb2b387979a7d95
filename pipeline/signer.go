package pipeline

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer         = "tabexport"
	subjectNonce   = "export-nonce"
	subjectFetch   = "download"
	minSecretBytes = 16
)

// DownloadClaims describe one stored async export.
type DownloadClaims struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
	MIMEType string `json:"mime"`
	Format   string `json:"format"`
	FormID   int    `json:"form_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies the HS256 tokens used for request integrity
// nonces and async download links.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner returns a Signer keyed with secret. An empty secret generates a
// random key, so tokens are valid only for the life of the process.
func NewSigner(secret string) (*Signer, error) {
	key := []byte(secret)
	if secret == "" {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	if len(key) < minSecretBytes {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretBytes)
	}
	return &Signer{key: key, now: time.Now}, nil
}

func (s *Signer) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (s *Signer) parse(token, subject string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// IssueNonce returns an integrity nonce valid for ttl.
func (s *Signer) IssueNonce(ttl time.Duration) (string, error) {
	claims := s.registered(subjectNonce, ttl)
	return s.sign(&claims)
}

// VerifyNonce checks a nonce issued by IssueNonce.
func (s *Signer) VerifyNonce(nonce string) error {
	if nonce == "" {
		return fmt.Errorf("%w: missing nonce", ErrIntegrityCheckFailed)
	}
	if err := s.parse(nonce, subjectNonce, &jwt.RegisteredClaims{}); err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrityCheckFailed, err)
	}
	return nil
}

// IssueDownload returns a download token for c valid for ttl.
func (s *Signer) IssueDownload(c DownloadClaims, ttl time.Duration) (string, error) {
	c.RegisteredClaims = s.registered(subjectFetch, ttl)
	return s.sign(&c)
}

// ParseDownload verifies a token issued by IssueDownload.
func (s *Signer) ParseDownload(token string) (*DownloadClaims, error) {
	var c DownloadClaims
	if err := s.parse(token, subjectFetch, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDownload, err)
	}
	if c.File == "" {
		return nil, fmt.Errorf("%w: token names no file", ErrInvalidDownload)
	}
	return &c, nil
}
