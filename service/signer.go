// service/signer.go
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	aegis_errors "github.com/framelane/aegis/errors"
)

// ISigner produces opaque signed locators for media resources. A signer
// must fail with ErrResourceNotFound when the resource does not exist.
type ISigner interface {
	Sign(ctx context.Context, resourceID, storagePathHint string) (string, error)
}

// ResourceProber reports whether a resource exists before it is signed.
type ResourceProber func(ctx context.Context, resourceID string) (bool, error)

const DefaultLocatorValidity = 12 * time.Hour

// URLSigner builds HMAC-signed media URLs. The signature covers the
// resource id, the storage path, and the expiry, so any of the three
// changing invalidates the locator.
type URLSigner struct {
	baseURL  string
	secret   []byte
	validity time.Duration
	prober   ResourceProber
	now      func() time.Time
}

type URLSignerOption func(*URLSigner)

// WithProber installs an existence check consulted before signing.
func WithProber(p ResourceProber) URLSignerOption {
	return func(s *URLSigner) {
		s.prober = p
	}
}

func WithValidity(d time.Duration) URLSignerOption {
	return func(s *URLSigner) {
		if d > 0 {
			s.validity = d
		}
	}
}

func WithSignerClock(now func() time.Time) URLSignerOption {
	return func(s *URLSigner) {
		if now != nil {
			s.now = now
		}
	}
}

func NewURLSigner(baseURL string, secret []byte, opts ...URLSignerOption) (*URLSigner, error) {
	if len(secret) == 0 {
		return nil, aegis_errors.ErrMissingSecret
	}
	s := &URLSigner{
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		validity: DefaultLocatorValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *URLSigner) Sign(ctx context.Context, resourceID, storagePathHint string) (string, error) {
	if resourceID == "" {
		return "", aegis_errors.ErrInvalidRequest
	}
	if s.prober != nil {
		exists, err := s.prober(ctx, resourceID)
		if err != nil {
			return "", fmt.Errorf("failed to probe resource %s: %w", resourceID, err)
		}
		if !exists {
			return "", fmt.Errorf("resource %s: %w", resourceID, aegis_errors.ErrResourceNotFound)
		}
	}

	path := storagePathHint
	if path == "" {
		path = fmt.Sprintf("videos/%s/stream.m3u8", resourceID)
	}
	path = strings.TrimLeft(path, "/")

	expires := s.now().Add(s.validity).Unix()
	query := url.Values{}
	query.Set("resource", resourceID)
	query.Set("expires", strconv.FormatInt(expires, 10))
	query.Set("sig", s.signature(resourceID, path, expires))

	return fmt.Sprintf("%s/%s?%s", s.baseURL, path, query.Encode()), nil
}

// VerifyLocator checks a locator's signature and expiry. Tampered locators
// fail with ErrGrantInvalid, expired ones with ErrGrantExpired.
func (s *URLSigner) VerifyLocator(locator string) error {
	parsed, err := url.Parse(locator)
	if err != nil {
		return fmt.Errorf("unparseable locator: %w", aegis_errors.ErrGrantInvalid)
	}
	query := parsed.Query()
	resourceID := query.Get("resource")
	sig := query.Get("sig")
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil || resourceID == "" || sig == "" {
		return aegis_errors.ErrGrantInvalid
	}

	path := strings.TrimLeft(parsed.Path, "/")
	expected := s.signature(resourceID, path, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return aegis_errors.ErrGrantInvalid
	}
	if s.now().Unix() > expires {
		return aegis_errors.ErrGrantExpired
	}
	return nil
}

func (s *URLSigner) signature(resourceID, path string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%s|%d", resourceID, path, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
