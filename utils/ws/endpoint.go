package ws

import (
	"net/url"
	"strings"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

var queryEncoder = schema.NewEncoder()

// EndpointURL builds a wss:// URL for the given host and query parameters.
// The query is any struct with `schema` tags. A trailing ":80" in host, which
// some servers hand out for historical reasons, is dropped. An explicit ws://
// scheme is kept, which is only useful for local servers.
func EndpointURL(host string, query any) (string, error) {
	scheme := "wss"
	if strings.HasPrefix(host, "ws://") {
		scheme = "ws"
		host = strings.TrimPrefix(host, "ws://")
	}

	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimSuffix(host, "/")

	if host == "" {
		return "", errors.New("empty endpoint host")
	}

	q := url.Values{}
	if query != nil {
		if err := queryEncoder.Encode(query, q); err != nil {
			return "", errors.Wrap(err, "failed to encode endpoint query")
		}
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/",
		RawQuery: q.Encode(),
	}

	return u.String(), nil
}
