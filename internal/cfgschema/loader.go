package cfgschema

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"ddscore/internal/coreerr"
	"ddscore/internal/obslog"
)

// frame is one entry of the open-element path stack.
type frame struct {
	node    *Node // schema node this element matched, nil for an ignore-marker
	ignore  bool  // skip-subtree: element is being parsed but discarded
	skipTxt bool  // skip-subtree applied specifically to the text child
}

// Loader walks one or more configuration inputs against a schema, building
// up a Tree. A Loader is single-use: construct one per Load call.
type Loader struct {
	schema       *Node
	tree         *Tree
	allowPartial bool
	sourceBit    uint32
	errored      bool
	deprecations []string
	moves        []string
}

// NewLoader creates a Loader over root, accumulating into tree. allowPartial
// enables longest-unique-prefix matching for unrecognized element names.
func NewLoader(root *Node, tree *Tree, allowPartial bool) *Loader {
	return &Loader{schema: root, tree: tree, allowPartial: allowPartial}
}

// LoadString parses a single comma-and-whitespace-separated list of inputs
// (inline XML fragments starting with '<', or file URIs/bare paths),
// assigning each a successive source bit, and returns the final resolved
// Tree along with a non-nil error iff the accumulated error flag is set.
func LoadString(root *Node, input string, allowPartial bool) (*Tree, error) {
	tree, _, _, err := LoadStringDetailed(root, input, allowPartial)
	return tree, err
}

// LoadStringDetailed is LoadString plus the deprecation and move-redirect
// warnings accumulated along the way, for callers (and tests) that need to
// assert on them directly.
func LoadStringDetailed(root *Node, input string, allowPartial bool) (tree *Tree, deprecations, moves []string, err error) {
	tree = NewTree(root)
	l := NewLoader(root, tree, allowPartial)

	for _, item := range splitInputs(input) {
		l.sourceBit++
		if strings.HasPrefix(item, "<") {
			l.loadXML(strings.NewReader(item))
			continue
		}
		path := strings.TrimPrefix(item, "file://")
		f, ferr := os.Open(path)
		if ferr != nil {
			l.errored = true
			obslog.Category("config").Error("open config source", "path", path, "error", ferr)
			continue
		}
		l.loadXML(f)
		f.Close()
	}

	missing := tree.applyDefaults(root, parseLeaf)
	for _, m := range missing {
		l.errored = true
		obslog.Category("config").Error("missing required configuration value", "node", m.Name)
	}

	if !l.errored {
		if err := resolveTransportSpecial(tree, root); err != nil {
			l.errored = true
			obslog.Category("config").Error("invalid transport configuration", "error", err)
		}
	}

	if l.errored {
		return tree, l.deprecations, l.moves, coreerr.New(coreerr.CodeMissingRequired, "configuration load failed; see logged errors")
	}
	return tree, l.deprecations, l.moves, nil
}

// resolveMovePath walks a dot-separated path (rooted at root's own Name)
// down through Children by exact Name match, returning the target node or
// nil if any segment fails to resolve.
func resolveMovePath(root *Node, path string) *Node {
	segments := strings.Split(path, ".")
	if len(segments) > 0 && segments[0] == root.Name {
		segments = segments[1:]
	}
	cur := root
	for _, seg := range segments {
		var next *Node
		for _, c := range cur.Children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	if cur == root {
		return nil
	}
	return cur
}

// findNode searches the schema tree rooted at n, depth-first, for a node
// with the given canonical Name. Schemas that don't declare a name (e.g. a
// minimal domain-id-only tree) simply yield a nil result to the caller.
func findNode(n *Node, name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := findNode(c, name); found != nil {
			return found
		}
	}
	return nil
}

// recordString returns the most recently applied raw literal recorded for
// n, or fallback if n has no record at all.
func recordString(tree *Tree, n *Node, fallback string) string {
	r, ok := tree.Lookup(n)
	if !ok || len(r.Values) == 0 {
		return fallback
	}
	return r.Values[len(r.Values)-1].Raw
}

// resolveTransportSpecial is the schema engine's post-load finalization of
// the "Selector"/"CompatTcpEnable"/"CompatUseIpv6" triple, run once the
// whole tree has been read rather than as each element is seen. A schema
// that doesn't declare all three nodes is left alone: nothing to reconcile.
func resolveTransportSpecial(tree *Tree, root *Node) error {
	selNode := findNode(root, "Selector")
	tcpNode := findNode(root, "CompatTcpEnable")
	ipv6Node := findNode(root, "CompatUseIpv6")
	if selNode == nil || tcpNode == nil || ipv6Node == nil {
		return nil
	}

	selector, err := ParseTransportSelector(recordString(tree, selNode, "default"))
	if err != nil {
		return err
	}
	compatTCP, err := ParseBoolDefault(recordString(tree, tcpNode, "default"))
	if err != nil {
		return err
	}
	compatIPv6, err := ParseBoolDefault(recordString(tree, ipv6Node, "default"))
	if err != nil {
		return err
	}

	resolved, err := DeriveTransport(selector, compatTCP, compatIPv6)
	if err != nil {
		return err
	}

	tree.apply(selNode, 0, Value{Raw: resolved.Selector.String(), Enum: resolved.Selector.String()})
	tree.apply(tcpNode, 0, Value{Raw: resolved.CompatTCP.String(), Enum: resolved.CompatTCP.String()})
	tree.apply(ipv6Node, 0, Value{Raw: resolved.CompatUseIPv6.String(), Enum: resolved.CompatUseIPv6.String()})
	return nil
}

// splitInputs splits s on commas, except commas inside a ${...} reference
// (so "${VAR,default}" stays within one input).
func splitInputs(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i <= len(s); i++ {
		switch {
		case i < len(s) && strings.HasPrefix(s[i:], "${"):
			depth++
		case i < len(s) && s[i] == '}' && depth > 0:
			depth--
		case i == len(s) || (s[i] == ',' && depth == 0):
			if part := strings.TrimSpace(s[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}

// loadXML walks one XML source's token stream against the schema,
// accumulating into l.tree. Errors are logged and set l.errored; parsing
// continues so every problem in the source is reported.
func (l *Loader) loadXML(r io.Reader) {
	dec := xml.NewDecoder(r)
	var stack []frame
	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}
	currentSchema := func() *Node {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].node != nil {
				return stack[i].node
			}
		}
		return l.schema
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.errored = true
			obslog.Category("config").Error("parse error", "error", err)
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			parent := currentSchema()
			name := t.Name.Local
			if len(stack) == 0 && name == l.schema.Name {
				// The source's outermost element names the schema root itself.
				stack = append(stack, frame{node: l.schema})
				continue
			}
			child, viaAlias, moved, ok := parent.Child(name)
			ambiguous := false
			if !ok && l.allowPartial {
				var perr error
				child, ok, perr = parent.PartialMatchChild(name)
				if perr != nil {
					ambiguous = true
					l.errored = true
					obslog.Category("config").Error("ambiguous element name", "name", name, "error", perr)
				}
			}
			if !ok {
				if ambiguous {
					stack = append(stack, frame{ignore: true})
					continue
				}
				l.errored = true
				obslog.Category("config").Error("unknown configuration element", "name", name)
				stack = append(stack, frame{ignore: true})
				continue
			}
			if viaAlias && !child.SilentAliases {
				l.deprecations = append(l.deprecations, fmt.Sprintf("%q is deprecated, use %q", name, child.Name))
				obslog.Category("config").Warn("deprecated configuration element", "used", name, "canonical", child.Name)
			}
			if moved != "" {
				l.moves = append(l.moves, fmt.Sprintf("%q has moved to %q", name, moved))
				obslog.Category("config").Warn("configuration element moved", "from", name, "to", moved)
				if target := resolveMovePath(l.schema, moved); target != nil {
					child = target
				}
			}
			stack = append(stack, frame{node: child})

			for _, attr := range t.Attr {
				l.processValue(child, attr.Name.Local, attr.Value, true)
			}

		case xml.CharData:
			f := top()
			if f == nil || f.node == nil || f.ignore || f.skipTxt {
				continue
			}
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			l.processValue(f.node, "", text, false)

		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}

// processValue expands ${env} occurrences and applies the resulting
// ok/error/skip-subtree outcome.
func (l *Loader) processValue(n *Node, attrName, raw string, isAttr bool) {
	expanded := ExpandEnv(raw)
	v, warn, result := parseLeafResult(n, expanded)
	if warn != "" {
		obslog.Category("config").Warn(warn, "node", n.Name)
	}
	switch result {
	case ResultOK:
		l.tree.apply(n, l.sourceBit, v)
	case ResultError:
		l.errored = true
		l.tree.applyError(n)
		obslog.Category("config").Error("invalid configuration value", "node", n.Name, "value", raw)
	case ResultSkipSubtree:
		// parseLeafResult reports skip-subtree for none of the built-in
		// leaf Kinds, so nothing is suppressed here and loadXML never sets
		// a frame's skipTxt bit.
		_ = isAttr
		_ = attrName
	}
}

// parseLeafResult converts a raw (already env-expanded) string into a
// Value for n's Kind, returning the outcome classification the engine's
// update hook contract specifies.
func parseLeafResult(n *Node, raw string) (Value, string, UpdateResult) {
	v, ok := parseLeaf(n, raw)
	if !ok {
		return Value{}, "", ResultError
	}
	warn := ""
	if n.Kind == KindDuration || n.Kind == KindMemSize {
		if _, deprecated, _ := parseUnitValue(raw, n.UnitMultipliers); deprecated {
			warn = "value without a unit is deprecated; assuming the default unit"
		}
	}
	return v, warn, ResultOK
}

// parseLeaf converts raw into a typed Value for n's Kind. It never
// produces a warning string on its own (parseLeafResult reports a nonzero
// duration or size given without a unit); ok is false for a malformed or
// out-of-range value.
func parseLeaf(n *Node, raw string) (Value, bool) {
	switch n.Kind {
	case KindBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes":
			return Value{Raw: raw, Bool: true}, true
		case "false", "0", "no":
			return Value{Raw: raw, Bool: false}, true
		default:
			return Value{}, false
		}
	case KindEnum:
		for _, ev := range n.EnumValues {
			if ev == raw {
				return Value{Raw: raw, Enum: raw}, true
			}
		}
		return Value{}, false
	case KindDuration, KindMemSize:
		units := n.UnitMultipliers
		val, _, err := parseUnitValue(raw, units)
		if err != nil {
			return Value{}, false
		}
		return Value{Raw: raw, Int: val}, true
	case KindInt:
		var i int64
		if _, err := fmt.Sscanf(raw, "%d", &i); err != nil {
			return Value{}, false
		}
		return Value{Raw: raw, Int: i}, true
	default: // KindString
		return Value{Raw: raw, Str: raw}, true
	}
}
