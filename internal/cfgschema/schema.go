// Package cfgschema implements the schema-driven configuration engine: a
// statically declared tree of typed nodes, walked by an XML tokenizer
// (encoding/xml.Decoder — the XML tokenizer itself is an external
// collaborator this engine only consumes), with deprecated-name aliasing,
// partial matching, multi-source precedence, unit parsing, and a
// print/round-trip path.
package cfgschema

import "fmt"

// Kind identifies a leaf schema node's value type.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindDuration
	KindMemSize
	KindEnum
	KindString
	KindGroup // non-leaf: a container for child nodes only
)

// Node is one entry in the statically declared schema tree.
type Node struct {
	// Name is the canonical spelling; Aliases are deprecated spellings
	// that still resolve to this node. A "||" in the original C schema
	// marks aliases silent (no deprecation warning); here that's the
	// SilentAliases flag instead of encoding it into the alias string.
	Name          string
	Aliases       []string
	SilentAliases bool
	Kind          Kind
	// Multi marks a node whose element may repeat, producing a list of
	// values in source order rather than a single scalar.
	Multi bool
	// Default is the literal default value, or "" for none. A node with
	// no default that is never written is a load error only if Required.
	Default  string
	Required bool
	// EnumValues lists the accepted case-sensitive literals for KindEnum.
	EnumValues []string
	// UnitMultipliers maps a unit suffix to its multiplier for
	// KindDuration/KindMemSize; "" maps to the multiplier implied when a
	// nonzero value carries no unit suffix at all.
	UnitMultipliers map[string]int64
	// MoveTo, when set, means this name is retired: matching it emits a
	// "moved" warning and redirects processing to the schema path named
	// here (dot-separated from the root).
	MoveTo string

	Children []*Node
}

// Child returns the first direct child whose Name or an Alias matches
// name, the alias flag, a "moved" redirect path (if any), and whether a
// match was found at all. Matching tries an exact name/alias match first;
// if the node also permits partial matches, the caller should fall back
// to PartialMatchChild.
func (n *Node) Child(name string) (child *Node, viaAlias bool, moved string, ok bool) {
	for _, c := range n.Children {
		if c.Name == name {
			if c.MoveTo != "" {
				return c, false, c.MoveTo, true
			}
			return c, false, "", true
		}
		for _, a := range c.Aliases {
			if a == name {
				if c.MoveTo != "" {
					return c, true, c.MoveTo, true
				}
				return c, true, "", true
			}
		}
	}
	return nil, false, "", false
}

// PartialMatchChild finds the unique child whose canonical Name has name
// as a prefix. It returns ok=false and a non-nil error if more than one
// child matches (ambiguous), or ok=false, err=nil if none do.
func (n *Node) PartialMatchChild(name string) (child *Node, ok bool, err error) {
	var matches []*Node
	for _, c := range n.Children {
		if len(name) < len(c.Name) && c.Name[:len(name)] == name {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, false, nil
	case 1:
		return matches[0], true, nil
	default:
		return nil, false, fmt.Errorf("ambiguous partial match for %q", name)
	}
}
