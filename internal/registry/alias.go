// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

// AliasEntry maps a user-facing agent alias to an underlying agent type
// and its default invocation arguments. Generalizes the cfg.Services /
// cfg.Workflows list-of-configs pattern (internal/config/schema.go) to
// agent identities instead of dev services.
type AliasEntry struct {
	BaseType     string   `hjson:"base_type" json:"base_type"`
	DefaultArgs  []string `hjson:"default_args,omitempty" json:"default_args,omitempty"`
	Hidden       bool     `hjson:"hidden,omitempty" json:"hidden,omitempty"`
}

// AliasTable resolves agentName (an alias or a bare base type) to the
// concrete agent type the AgentRuntime should start.
type AliasTable struct {
	entries map[string]AliasEntry
}

// NewAliasTable builds a table from a name->entry map, typically decoded
// straight out of the workstation's hjson config.
func NewAliasTable(entries map[string]AliasEntry) *AliasTable {
	t := &AliasTable{entries: make(map[string]AliasEntry, len(entries))}
	for name, entry := range entries {
		t.entries[name] = entry
	}
	return t
}

// Resolve returns the base agent type for agentName, falling back to
// treating agentName itself as a base type when no alias is configured.
func (t *AliasTable) Resolve(agentName string) (baseType string, args []string) {
	if t != nil {
		if entry, ok := t.entries[agentName]; ok {
			return entry.BaseType, entry.DefaultArgs
		}
	}
	return agentName, nil
}

// HiddenBaseTypes lists base types that should not be offered directly in
// session-creation pickers because an alias already fronts them — surfaced
// in sync.state's hidden_base_types.
func (t *AliasTable) HiddenBaseTypes() []string {
	if t == nil {
		return nil
	}
	var hidden []string
	for _, entry := range t.entries {
		if entry.Hidden {
			hidden = append(hidden, entry.BaseType)
		}
	}
	return hidden
}

// Names returns the configured alias -> base type map, used to populate
// sync.state's agent_aliases field.
func (t *AliasTable) Names() map[string]string {
	if t == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(t.entries))
	for name, entry := range t.entries {
		out[name] = entry.BaseType
	}
	return out
}
