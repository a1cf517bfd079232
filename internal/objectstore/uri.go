package objectstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseURI splits a destination into scheme, bucket and path. A destination
// without "://" is a local path and yields empty scheme and bucket.
func ParseURI(uri string) (scheme, bucket, path string, err error) {
	uri = strings.TrimSpace(uri)
	if !strings.Contains(uri, "://") {
		return "", "", uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme == "file" {
		return "", "", u.Path, nil
	}
	return scheme, u.Host, strings.TrimLeft(u.Path, "/"), nil
}
