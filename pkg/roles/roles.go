// Package roles defines typed contracts for plugin roles.
// Plugins that fill a role (declared via PluginInfo.Roles) should implement
// the corresponding interface so callers can use type-safe access via
// PluginResolver.ResolveByRole followed by a type assertion.
package roles

import (
	"github.com/HerbHall/homewatch/pkg/models"
	"github.com/HerbHall/homewatch/pkg/plugin"
)

// Role name constants match the strings used in PluginInfo.Roles.
const (
	RolePresence     = "presence"
	RoleVideo        = "video"
	RoleNotification = "notification"
	RoleIntegration  = "integration"
)

// PresenceProvider is implemented by plugins that resolve who is home.
type PresenceProvider interface {
	// Presence returns the latest filter output, if a snapshot exists.
	Presence() (models.PresenceReport, bool)
}

// VideoSource is implemented by plugins that own a camera stream.
type VideoSource interface {
	// StreamState returns the current session state.
	StreamState() models.StreamState

	// LatestFrame returns the newest frame of the open session.
	LatestFrame() (models.Frame, bool)
}

// Presence returns the first resolvable PresenceProvider.
func Presence(r plugin.PluginResolver) (PresenceProvider, bool) {
	if r == nil {
		return nil, false
	}
	for _, p := range r.ResolveByRole(RolePresence) {
		if pp, ok := p.(PresenceProvider); ok {
			return pp, true
		}
	}
	return nil, false
}
