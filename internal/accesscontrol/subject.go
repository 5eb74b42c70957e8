package accesscontrol

import "strings"

// decomposeDN splits a distinguished name into an attribute map, accepting
// any of the separators real-world certificate tooling emits: `,`, `/`, `|`.
func decomposeDN(dn string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.FieldsFunc(dn, func(r rune) bool {
		return r == ',' || r == '/' || r == '|'
	}) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		attrs[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return attrs
}

// subjectMatches reports whether every attribute present in the identity
// certificate's DN is also present, with an equal value, in the grant's
// subject name. The grant may carry additional attributes the identity
// doesn't mention.
func subjectMatches(grantDN, identityDN string) bool {
	grantAttrs := decomposeDN(grantDN)
	identityAttrs := decomposeDN(identityDN)
	for k, v := range identityAttrs {
		gv, ok := grantAttrs[k]
		if !ok || gv != v {
			return false
		}
	}
	return true
}
