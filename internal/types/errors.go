package types

import (
	"errors"
	"strings"
)

// Error taxonomy shared by the cache, catalog, device and store.
// Callers wrap these with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrNetwork           = errors.New("network failure")
	ErrDecode            = errors.New("decode failure")
	ErrUnsupportedSource = errors.New("unsupported source")
	ErrCache             = errors.New("cache failure")
	ErrAborted           = errors.New("aborted")
)

// Message maps an error to the human-readable text stored in playback state
func Message(err error) string {
	if err == nil {
		return ""
	}

	var prefix string
	switch {
	case errors.Is(err, ErrNotFound):
		prefix = "Song not found"
	case errors.Is(err, ErrNetwork):
		prefix = "Network error while loading audio"
	case errors.Is(err, ErrDecode):
		prefix = "Audio file could not be decoded"
	case errors.Is(err, ErrUnsupportedSource):
		prefix = "Unsupported audio format or source"
	case errors.Is(err, ErrAborted):
		prefix = "Audio loading was aborted"
	case errors.Is(err, ErrCache):
		prefix = "Local cache unavailable"
	default:
		return err.Error()
	}

	detail := err.Error()
	if detail == "" || strings.EqualFold(detail, prefix) {
		return prefix
	}
	return prefix + ": " + detail
}
