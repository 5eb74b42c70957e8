package cfgschema

import (
	"fmt"
	"strings"
)

// Print serializes every written record reachable from n back into an XML
// fragment using the same schema metadata the loader consumed, so that
// LoadString(Print(tree)) reproduces the tree's scalar values exactly
// (ordering and Multi-list contents included).
func Print(tree *Tree, n *Node) string {
	var b strings.Builder
	printNode(&b, tree, n, 0)
	return b.String()
}

func printNode(b *strings.Builder, tree *Tree, n *Node, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.Kind == KindGroup {
		if depth > 0 {
			fmt.Fprintf(b, "%s<%s>\n", indent, n.Name)
		}
		for _, c := range n.Children {
			printNode(b, tree, c, depth+1)
		}
		if depth > 0 {
			fmt.Fprintf(b, "%s</%s>\n", indent, n.Name)
		}
		return
	}

	r, ok := tree.Lookup(n)
	if !ok || !r.Written {
		return
	}
	for _, v := range r.Values {
		fmt.Fprintf(b, "%s<%s>%s</%s>\n", indent, n.Name, printScalar(n, v), n.Name)
	}
}

func printScalar(n *Node, v Value) string {
	switch n.Kind {
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindEnum:
		return v.Enum
	case KindDuration, KindMemSize:
		// Spell out the base unit so a reload doesn't apply the schema's
		// default multiplier to an already-scaled value.
		for unit, mult := range n.UnitMultipliers {
			if mult == 1 && unit != "" {
				return fmt.Sprintf("%d%s", v.Int, unit)
			}
		}
		return fmt.Sprintf("%d", v.Int)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	default:
		return v.Str
	}
}
