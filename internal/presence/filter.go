// Package presence maps raw router device names to the nicknames shown to
// users. A nickname is present when any of its devices is active.
package presence

import (
	"slices"
	"strings"
	"sync/atomic"

	"github.com/HerbHall/homewatch/pkg/models"
)

// Filter resolves snapshots against an ordered rule list. Rules can be
// replaced at any time; Resolve always sees a consistent list.
type Filter struct {
	rules atomic.Pointer[[]models.FilterRule]
}

// NewFilter creates a Filter with the given rules.
func NewFilter(rules []models.FilterRule) *Filter {
	f := &Filter{}
	f.SetRules(rules)
	return f
}

// SetRules replaces the rule list.
func (f *Filter) SetRules(rules []models.FilterRule) {
	cp := make([]models.FilterRule, 0, len(rules))
	for _, r := range rules {
		if len(r.DeviceNames) == 0 {
			continue
		}
		cp = append(cp, models.FilterRule{
			DeviceNames: append([]string(nil), r.DeviceNames...),
			Nickname:    r.DisplayName(),
		})
	}
	f.rules.Store(&cp)
}

// Rules returns the active rule list.
func (f *Filter) Rules() []models.FilterRule {
	p := f.rules.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Match returns the first rule listing name, compared case-insensitively.
func (f *Filter) Match(name string) (models.FilterRule, bool) {
	for _, r := range f.Rules() {
		for _, dn := range r.DeviceNames {
			if strings.EqualFold(dn, name) {
				return r, true
			}
		}
	}
	return models.FilterRule{}, false
}

// Resolve computes the presence report for a snapshot. Entries follow rule
// order; rules without any device in the snapshot are omitted, as are
// devices no rule lists.
func (f *Filter) Resolve(snap models.Snapshot) models.PresenceReport {
	rules := f.Rules()
	report := models.PresenceReport{
		Seq:            snap.Seq,
		FiltersDefined: len(rules) > 0,
	}

	byNick := make(map[string]*models.Presence)
	var order []string
	for _, c := range snap.Clients {
		rule, ok := f.Match(c.Name)
		if !ok {
			continue
		}
		p, seen := byNick[rule.Nickname]
		if !seen {
			p = &models.Presence{Nickname: rule.Nickname}
			byNick[rule.Nickname] = p
		}
		p.Active = p.Active || c.Active
		p.Devices = append(p.Devices, c.Name)
	}

	for _, r := range rules {
		if _, ok := byNick[r.Nickname]; ok && !slices.Contains(order, r.Nickname) {
			order = append(order, r.Nickname)
		}
	}
	report.Presence = make([]models.Presence, 0, len(order))
	for _, nick := range order {
		report.Presence = append(report.Presence, *byNick[nick])
	}
	report.Matched = len(report.Presence) > 0
	return report
}

// Message is the status line shown when nothing can be listed.
func Message(r models.PresenceReport) string {
	switch {
	case !r.FiltersDefined:
		return "No filters defined"
	case !r.Matched:
		return "Filter didn't match to anyone"
	default:
		return ""
	}
}
