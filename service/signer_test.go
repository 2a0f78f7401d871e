package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aegis_errors "github.com/framelane/aegis/errors"
)

var signerSecret = []byte("test-locator-secret")

func newTestSigner(t *testing.T, opts ...URLSignerOption) *URLSigner {
	t.Helper()
	s, err := NewURLSigner("https://media.example.com", signerSecret, opts...)
	require.NoError(t, err)
	return s
}

func TestNewURLSignerRequiresSecret(t *testing.T) {
	_, err := NewURLSigner("https://media.example.com", nil)
	assert.ErrorIs(t, err, aegis_errors.ErrMissingSecret)
}

func TestSignProducesVerifiableLocator(t *testing.T) {
	s := newTestSigner(t)

	locator, err := s.Sign(context.Background(), "video-42", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(locator, "https://media.example.com/videos/video-42/"))
	assert.Contains(t, locator, "sig=")

	assert.NoError(t, s.VerifyLocator(locator))
}

func TestSignHonorsStoragePathHint(t *testing.T) {
	s := newTestSigner(t)

	locator, err := s.Sign(context.Background(), "video-42", "/renders/video-42/proof.mp4")
	require.NoError(t, err)
	assert.Contains(t, locator, "https://media.example.com/renders/video-42/proof.mp4?")
	assert.NoError(t, s.VerifyLocator(locator))
}

func TestSignRejectsEmptyResource(t *testing.T) {
	s := newTestSigner(t)

	_, err := s.Sign(context.Background(), "", "")
	assert.ErrorIs(t, err, aegis_errors.ErrInvalidRequest)
}

func TestSignConsultsProber(t *testing.T) {
	missing := func(ctx context.Context, resourceID string) (bool, error) {
		return resourceID == "exists", nil
	}
	s := newTestSigner(t, WithProber(missing))

	_, err := s.Sign(context.Background(), "exists", "")
	assert.NoError(t, err)

	_, err = s.Sign(context.Background(), "gone", "")
	assert.ErrorIs(t, err, aegis_errors.ErrResourceNotFound)
}

func TestSignPropagatesProberFailure(t *testing.T) {
	s := newTestSigner(t, WithProber(func(ctx context.Context, resourceID string) (bool, error) {
		return false, errors.New("storage unreachable")
	}))

	_, err := s.Sign(context.Background(), "video-42", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, aegis_errors.ErrResourceNotFound)
}

func TestVerifyLocatorDetectsTampering(t *testing.T) {
	s := newTestSigner(t)

	locator, err := s.Sign(context.Background(), "video-42", "")
	require.NoError(t, err)

	// Point the signed URL at a different resource.
	tampered := strings.Replace(locator, "resource=video-42", "resource=video-43", 1)
	assert.ErrorIs(t, s.VerifyLocator(tampered), aegis_errors.ErrGrantInvalid)

	// Strip the signature entirely.
	parsed, err := url.Parse(locator)
	require.NoError(t, err)
	query := parsed.Query()
	query.Del("sig")
	parsed.RawQuery = query.Encode()
	assert.ErrorIs(t, s.VerifyLocator(parsed.String()), aegis_errors.ErrGrantInvalid)
}

func TestVerifyLocatorExpiry(t *testing.T) {
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSigner(t,
		WithValidity(time.Hour),
		WithSignerClock(func() time.Time { return current }))

	locator, err := s.Sign(context.Background(), "video-42", "")
	require.NoError(t, err)
	require.NoError(t, s.VerifyLocator(locator))

	current = current.Add(2 * time.Hour)
	assert.ErrorIs(t, s.VerifyLocator(locator), aegis_errors.ErrGrantExpired)
}
