package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedDataURL is returned for images that are not base64 data URLs.
var ErrMalformedDataURL = errors.New("malformed image data url")

// ParseDataURL strips the "data:image/...;base64," prefix from s and decodes
// the payload. It returns the media type (e.g. "image/jpeg") and the raw bytes.
func ParseDataURL(s string) (string, []byte, error) {
	header, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return "", nil, ErrMalformedDataURL
	}
	mediaType, params, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if !strings.HasPrefix(mediaType, "image/") || params != "base64" {
		return "", nil, fmt.Errorf("%w: unsupported header %q", ErrMalformedDataURL, header)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrMalformedDataURL)
	}
	return mediaType, data, nil
}

// EncodeDataURL builds a base64 data URL for data of the given media type.
func EncodeDataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
