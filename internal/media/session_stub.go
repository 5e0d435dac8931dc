//go:build !linux

package media

import "fmt"

// NewSession creates a new platform-specific media session.
// Only MPRIS is supported; callers fall back to NoOpSession.
func NewSession(name string) (Session, error) {
	return nil, fmt.Errorf("media session not supported on this platform")
}
