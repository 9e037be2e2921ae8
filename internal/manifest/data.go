// Package manifest owns the on-disk command manifest (commands.json) and
// the per-command script files stored next to it.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"dyncmd/internal/node"
)

// CommandData is the durable record of one command.
type CommandData struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`
	Permission  int    `json:"permission"`
	// Function is tri-state: true loads a script, false marks a metadata-only
	// entry, nil means the entry is not loadable.
	Function    *bool         `json:"function,omitempty"`
	Children    []CommandData `json:"children,omitempty"`
	Overridable bool          `json:"overridable"`
	Disabled    bool          `json:"disabled"`
}

// UnmarshalJSON decodes a command entry strictly, applying defaults for
// absent keys.
func (c *CommandData) UnmarshalJSON(b []byte) error {
	type plain CommandData
	var raw struct {
		plain
		Name        *string `json:"name"`
		Overridable *bool   `json:"overridable"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.Name == nil {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	*c = CommandData(raw.plain)
	c.Name = *raw.Name
	c.Overridable = true
	if raw.Overridable != nil {
		c.Overridable = *raw.Overridable
	}
	return nil
}

// Loadable reports whether the entry declares a backing script.
func (c CommandData) Loadable() bool {
	return c.Function != nil && *c.Function
}

// NodeConfig converts the entry (and its children) into node metadata.
func (c CommandData) NodeConfig() node.Config {
	cfg := node.Config{
		Name:        c.Name,
		Usage:       c.Usage,
		Description: c.Description,
		Permission:  c.Permission,
		Disabled:    c.Disabled,
	}
	for _, child := range c.Children {
		cfg.Children = append(cfg.Children, child.NodeConfig())
	}
	return cfg
}

// Bool returns a pointer to v, for populating Function.
func Bool(v bool) *bool { return &v }

// ParserData is the manifest root.
type ParserData struct {
	CommandPrefix string        `json:"commandPrefix"`
	Commands      []CommandData `json:"commands"`
}

// UnmarshalJSON decodes the manifest root strictly; both keys are required.
func (p *ParserData) UnmarshalJSON(b []byte) error {
	var raw struct {
		CommandPrefix *string        `json:"commandPrefix"`
		Commands      *[]CommandData `json:"commands"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.CommandPrefix == nil {
		return fmt.Errorf("%w: commandPrefix", ErrMissingField)
	}
	if raw.Commands == nil {
		return fmt.Errorf("%w: commands", ErrMissingField)
	}
	p.CommandPrefix = *raw.CommandPrefix
	p.Commands = *raw.Commands
	return nil
}

// Find returns the index of the command named name, ignoring case.
func Find(list []CommandData, name string) (int, bool) {
	for i, c := range list {
		if strings.EqualFold(c.Name, name) {
			return i, true
		}
	}
	return -1, false
}

// Find looks up a top-level command by name, ignoring case.
func (p *ParserData) Find(name string) (*CommandData, bool) {
	i, ok := Find(p.Commands, name)
	if !ok {
		return nil, false
	}
	return &p.Commands[i], true
}

// Clone returns a deep copy of p.
func (p *ParserData) Clone() *ParserData {
	out := &ParserData{CommandPrefix: p.CommandPrefix}
	out.Commands = cloneList(p.Commands)
	return out
}

func cloneList(list []CommandData) []CommandData {
	if list == nil {
		return nil
	}
	out := make([]CommandData, len(list))
	for i, c := range list {
		out[i] = c
		if c.Function != nil {
			out[i].Function = Bool(*c.Function)
		}
		out[i].Children = cloneList(c.Children)
	}
	return out
}
