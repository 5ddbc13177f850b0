package core

import (
	"fmt"
	"sort"
	"strings"

	"herbtrace/pkg/domain"
)

// Plugin describes a compliance pack that contributes rules and, optionally, a
// quality gate threshold profile.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules      []Rule
	thresholds *domain.Thresholds
	notes      map[domain.EventType][]string
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{notes: make(map[domain.EventType][]string)}
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterThresholds replaces the quality gate limits once the plugin is
// installed. The profile must carry a version.
func (r *PluginRegistry) RegisterThresholds(t domain.Thresholds) error {
	if strings.TrimSpace(t.Version) == "" {
		return fmt.Errorf("threshold profile requires a version")
	}
	if r.thresholds != nil {
		return fmt.Errorf("threshold profile %s already registered", r.thresholds.Version)
	}
	r.thresholds = &t
	return nil
}

// RegisterRequirement documents what the pack expects in the payload of evt.
// Requirements are surfaced through plugin metadata.
func (r *PluginRegistry) RegisterRequirement(evt domain.EventType, note string) {
	if evt == "" || strings.TrimSpace(note) == "" {
		return
	}
	r.notes[evt] = append(r.notes[evt], note)
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Thresholds returns the registered profile, if any.
func (r *PluginRegistry) Thresholds() (domain.Thresholds, bool) {
	if r.thresholds == nil {
		return domain.Thresholds{}, false
	}
	return *r.thresholds, true
}

// Requirements returns a copy of the registered payload requirements.
func (r *PluginRegistry) Requirements() map[domain.EventType][]string {
	out := make(map[domain.EventType][]string, len(r.notes))
	for evt, notes := range r.notes {
		out[evt] = append([]string(nil), notes...)
	}
	return out
}

// PluginMetadata describes an installed plugin.
type PluginMetadata struct {
	Name              string                        `json:"name"`
	Version           string                        `json:"version"`
	Rules             []string                      `json:"rules"`
	ThresholdsVersion string                        `json:"thresholdsVersion,omitempty"`
	Requirements      map[domain.EventType][]string `json:"requirements,omitempty"`
}

func sortedPluginMetadata(in map[string]PluginMetadata) []PluginMetadata {
	out := make([]PluginMetadata, 0, len(in))
	for _, meta := range in {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
