// Package access answers role and access questions for a user id.
package access

import (
	"slices"

	"github.com/metalagman/forge/internal/config"
)

// Gate resolves owner/dev roles and the access mode from configuration.
type Gate struct {
	ownerID int64
	devs    []int64
	mode    string
}

// NewGate builds a gate from the loaded configuration.
func NewGate(cfg config.Config) *Gate {
	mode := cfg.Access
	if mode == "" {
		mode = config.AccessDev
	}
	return &Gate{
		ownerID: cfg.OwnerID,
		devs:    slices.Clone(cfg.Devs),
		mode:    mode,
	}
}

// IsOwner reports whether userID is the configured owner.
func (g *Gate) IsOwner(userID int64) bool {
	return g.ownerID != 0 && userID == g.ownerID
}

// IsDev reports whether userID is a developer. The owner is always a developer.
func (g *Gate) IsDev(userID int64) bool {
	return g.IsOwner(userID) || slices.Contains(g.devs, userID)
}

// Mode returns "dev" or "public".
func (g *Gate) Mode() string {
	return g.mode
}

// HasAccess reports whether userID may talk to the bot at all.
func (g *Gate) HasAccess(userID int64) bool {
	if g.mode == config.AccessDev {
		return g.IsDev(userID)
	}
	return true
}
