package models

// FilterRule maps one or more router device names to a nickname shown in the UI.
type FilterRule struct {
	DeviceNames []string `json:"device_names" mapstructure:"device_names"`
	Nickname    string   `json:"nickname,omitempty" mapstructure:"nickname"`
}

// DisplayName is the nickname, or the first device name when none is set.
func (r FilterRule) DisplayName() string {
	if r.Nickname != "" {
		return r.Nickname
	}
	if len(r.DeviceNames) > 0 {
		return r.DeviceNames[0]
	}
	return ""
}

// Presence is the resolved state of one nickname.
type Presence struct {
	Nickname string   `json:"nickname" example:"Bob"`
	Active   bool     `json:"active" example:"true"`
	Devices  []string `json:"devices"`
}

// PresenceReport is the filter output for one snapshot.
type PresenceReport struct {
	Seq            uint64     `json:"seq"`
	FiltersDefined bool       `json:"filters_defined"`
	Matched        bool       `json:"matched"`
	Presence       []Presence `json:"presence"`
}

// Changed returns the entries of r whose Active value differs from prev,
// including nicknames not present in prev.
func (r PresenceReport) Changed(prev PresenceReport) []Presence {
	before := make(map[string]bool, len(prev.Presence))
	for _, p := range prev.Presence {
		before[p.Nickname] = p.Active
	}
	var out []Presence
	for _, p := range r.Presence {
		if was, ok := before[p.Nickname]; !ok || was != p.Active {
			out = append(out, p)
		}
	}
	return out
}
