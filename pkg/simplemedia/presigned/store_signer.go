package presigned

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// StoreSigner issues signed GET URLs for objects served by the media API.
type StoreSigner struct {
	signer  *Signer
	baseURL string
}

// NewStoreSigner returns a simplemedia.Signer producing baseURL-prefixed URLs.
// An empty baseURL yields host-relative URLs.
func NewStoreSigner(signer *Signer, baseURL string) *StoreSigner {
	return &StoreSigner{signer: signer, baseURL: strings.TrimRight(baseURL, "/")}
}

// Sign returns a GET URL for key valid for ttl.
func (s *StoreSigner) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", simplemedia.ErrNotFound
	}
	signed, err := s.signer.SignURL(http.MethodGet, s.signer.PathForKey(key), ttl)
	if err != nil {
		return "", err
	}
	// The signature covers the decoded path; only the emitted URL is escaped.
	return s.baseURL + escapeSignedPath(signed), nil
}

func escapeSignedPath(signed string) string {
	p, query, _ := strings.Cut(signed, "?")
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/") + "?" + query
}

var _ simplemedia.Signer = (*StoreSigner)(nil)
