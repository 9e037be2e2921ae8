// Package node implements the named, permission-tagged tree shared by
// commands and their sub-arguments.
//
// Children are keyed case-insensitively. A node never owns its parent: the
// parent link is a plain back-reference that SetParent, AddChildren and
// RemoveChildren keep consistent with exactly one parent's children map.
package node

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnexpectedKey is returned when raw metadata carries an unknown key.
var ErrUnexpectedKey = errors.New("unexpected node key")

// Config is the typed metadata a node is built from.
type Config struct {
	Name        string
	Usage       string
	Description string
	Permission  int
	Disabled    bool
	Children    []Config
}

// Node is one element of a command tree.
type Node struct {
	name     string
	parent   *Node
	root     bool
	children map[string]*Node

	Usage       string
	Description string
	// Permission is the minimum caller level required to reach this node.
	Permission int
	Disabled   bool
}

// New builds a node (and its children, recursively) from cfg. When parent is
// non-nil the node is inserted into parent's children.
func New(cfg Config, parent *Node) *Node {
	n := &Node{
		name:        cfg.Name,
		children:    make(map[string]*Node),
		Usage:       cfg.Usage,
		Description: cfg.Description,
		Permission:  cfg.Permission,
		Disabled:    cfg.Disabled,
	}
	for _, c := range cfg.Children {
		New(c, n)
	}
	if parent != nil {
		n.SetParent(parent)
	}
	return n
}

// FromMap builds a node from loosely typed metadata such as decoded JSON.
// Unknown keys are a hard error.
func FromMap(m map[string]any, parent *Node) (*Node, error) {
	cfg, err := configFromMap(m)
	if err != nil {
		return nil, err
	}
	return New(cfg, parent), nil
}

func configFromMap(m map[string]any) (Config, error) {
	var cfg Config
	for k, v := range m {
		switch k {
		case "name":
			s, ok := v.(string)
			if !ok {
				return cfg, fmt.Errorf("node key %q: want string, got %T", k, v)
			}
			cfg.Name = s
		case "usage":
			s, ok := v.(string)
			if !ok {
				return cfg, fmt.Errorf("node key %q: want string, got %T", k, v)
			}
			cfg.Usage = s
		case "description":
			s, ok := v.(string)
			if !ok {
				return cfg, fmt.Errorf("node key %q: want string, got %T", k, v)
			}
			cfg.Description = s
		case "permission":
			p, err := toInt(v)
			if err != nil {
				return cfg, fmt.Errorf("node key %q: %w", k, err)
			}
			cfg.Permission = p
		case "disabled":
			b, ok := v.(bool)
			if !ok {
				return cfg, fmt.Errorf("node key %q: want bool, got %T", k, v)
			}
			cfg.Disabled = b
		case "children":
			list, ok := v.([]any)
			if !ok {
				return cfg, fmt.Errorf("node key %q: want list, got %T", k, v)
			}
			for _, item := range list {
				cm, ok := item.(map[string]any)
				if !ok {
					return cfg, fmt.Errorf("node key %q: want object, got %T", k, item)
				}
				child, err := configFromMap(cm)
				if err != nil {
					return cfg, err
				}
				cfg.Children = append(cfg.Children, child)
			}
		default:
			return cfg, fmt.Errorf("%w: %s", ErrUnexpectedKey, k)
		}
	}
	return cfg, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("want integer, got %T", v)
	}
}

func key(name string) string { return strings.ToLower(name) }

// Name returns the node's name.
func (n *Node) Name() string { return n.name }

// SetName renames the node. The parent's children map is updated in one
// step: the old key is removed and the new one inserted. A sibling already
// holding the new name is detached.
func (n *Node) SetName(name string) {
	if p := n.parent; p != nil {
		delete(p.children, key(n.name))
		n.name = name
		if prev, ok := p.children[key(name)]; ok && prev != n {
			prev.parent = nil
		}
		p.children[key(name)] = n
		return
	}
	n.name = name
}

// Parent returns the parent node, or nil for detached and root nodes.
func (n *Node) Parent() *Node { return n.parent }

// IsRoot reports whether the node was marked as a tree root.
func (n *Node) IsRoot() bool { return n.root }

// SetParent moves the node under p. Passing the node itself marks it as a
// root; passing nil detaches it.
func (n *Node) SetParent(p *Node) {
	if n.parent != nil {
		if cur, ok := n.parent.children[key(n.name)]; ok && cur == n {
			delete(n.parent.children, key(n.name))
		}
	}
	if p == n {
		n.parent = nil
		n.root = true
		return
	}
	n.root = false
	n.parent = p
	if p != nil {
		if prev, ok := p.children[key(n.name)]; ok && prev != n {
			prev.parent = nil
		}
		p.children[key(n.name)] = n
	}
}

// AddChildren reparents each node under n, replacing any child already
// occupying the same name.
func (n *Node) AddChildren(children ...*Node) {
	for _, c := range children {
		if c == nil || c == n {
			continue
		}
		c.SetParent(n)
	}
}

// RemoveChildren detaches the given nodes if they are children of n.
func (n *Node) RemoveChildren(children ...*Node) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if cur, ok := n.children[key(c.name)]; ok && cur == c {
			c.SetParent(nil)
		}
	}
}

// RemoveChildrenNamed detaches the children with the given names.
func (n *Node) RemoveChildrenNamed(names ...string) {
	for _, name := range names {
		if c, ok := n.children[key(name)]; ok {
			c.SetParent(nil)
		}
	}
}

// Child looks up a direct child by name, ignoring case.
func (n *Node) Child(name string) (*Node, bool) {
	c, ok := n.children[key(name)]
	return c, ok
}

// Children returns the direct children sorted by name.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i].name) < key(out[j].name) })
	return out
}

// Len returns the number of direct children.
func (n *Node) Len() int { return len(n.children) }

// Walk follows args down the tree starting at n and returns the deepest node
// reached. The walk stops at the first token that does not name a child.
func (n *Node) Walk(args []string) *Node {
	cur := n
	for _, arg := range args {
		next, ok := cur.Child(arg)
		if !ok {
			break
		}
		cur = next
	}
	return cur
}

// Path returns the nodes from the walk root to the node reached by args,
// starting with n itself.
func (n *Node) Path(args []string) []*Node {
	path := []*Node{n}
	cur := n
	for _, arg := range args {
		next, ok := cur.Child(arg)
		if !ok {
			break
		}
		path = append(path, next)
		cur = next
	}
	return path
}

// Config returns the node's metadata, including its children.
func (n *Node) Config() Config {
	cfg := Config{
		Name:        n.name,
		Usage:       n.Usage,
		Description: n.Description,
		Permission:  n.Permission,
		Disabled:    n.Disabled,
	}
	for _, c := range n.Children() {
		cfg.Children = append(cfg.Children, c.Config())
	}
	return cfg
}

// String renders the naming path, e.g. "root:__help__topics".
func (n *Node) String() string {
	if n.parent == nil {
		return "root:__" + n.name
	}
	return n.parent.String() + "__" + n.name
}

// Equal reports whether a and b are the same node, or sit at the same naming
// path.
func Equal(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.name == b.name && Equal(a.parent, b.parent)
}
