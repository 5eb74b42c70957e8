package cfgschema

import (
	"os"
	"regexp"
)

// envPattern matches ${X} and ${X,default} occurrences.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:,([^}]*))?\}`)

// ExpandEnv substitutes ${X} and ${X,default} occurrences in s from the
// process environment, before the value ever reaches a schema node's
// update hook.
func ExpandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return fallback
	})
}
