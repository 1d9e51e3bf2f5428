package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/matheus3301/groupchat/internal/config"
)

var clientIDRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// NewClientID returns a fresh participant id of the form user-<8 hex>.
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "user-" + id[:8]
}

// ValidateClientID checks that id is safe to use in a URL path segment.
func ValidateClientID(id string) error {
	if !clientIDRegexp.MatchString(id) {
		return fmt.Errorf("invalid client id %q: must match ^[A-Za-z0-9_-]{1,64}$", id)
	}
	return nil
}

// ResolveClientID determines the participant id using precedence:
// 1. flagOverride (--client-id flag)
// 2. client.id in config
// 3. a freshly generated id
func ResolveClientID(flagOverride string, cfg *config.Config) (string, error) {
	id := flagOverride
	if id == "" && cfg != nil {
		id = cfg.Client.ID
	}
	if id == "" {
		return NewClientID(), nil
	}
	if err := ValidateClientID(id); err != nil {
		return "", err
	}
	return id, nil
}
