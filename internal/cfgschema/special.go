package cfgschema

import (
	"fmt"
	"strconv"
	"strings"

	"ddscore/internal/coreerr"
)

// DomainIDAny is the sentinel recorded for a domainId node whose literal
// value is "any": it matches every participant regardless of domain.
const DomainIDAny uint32 = 0xFFFFFFFF

// ParseDomainID resolves a domainId node's raw text, recognizing the "any"
// sentinel ahead of the normal integer parse.
func ParseDomainID(raw string) (uint32, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "any") {
		return DomainIDAny, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, coreerr.Wrap(err, coreerr.CodeOutOfRange, fmt.Sprintf("invalid domainId %q", raw))
	}
	return uint32(n), nil
}

// BoolDefault is a tri-state boolean. "Unset" is distinct from "false": the
// transport derivation below treats an unset compat flag as "defer to
// whatever the other two properties imply", not as an explicit negative.
type BoolDefault int

const (
	BoolUnset BoolDefault = iota
	BoolFalse
	BoolTrue
)

func (b BoolDefault) String() string {
	switch b {
	case BoolFalse:
		return "false"
	case BoolTrue:
		return "true"
	default:
		return "default"
	}
}

// ParseBoolDefault parses one of the two deprecated compatibility
// properties (compat_tcp_enable, compat_use_ipv6), which carry a tri-state
// default/false/true rather than a plain bool.
func ParseBoolDefault(raw string) (BoolDefault, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return BoolUnset, nil
	case "false", "0", "no":
		return BoolFalse, nil
	case "true", "1", "yes":
		return BoolTrue, nil
	default:
		return BoolUnset, coreerr.New(coreerr.CodeIncompatibleProp, fmt.Sprintf("invalid tri-state boolean %q", raw))
	}
}

// TransportSelector names the wire transport a participant uses.
type TransportSelector int

const (
	TransportDefault TransportSelector = iota
	TransportUDP
	TransportUDP6
	TransportTCP
	TransportTCP6
	TransportRawEth
	TransportNone
)

var transportSelectorNames = [...]string{
	TransportDefault: "default",
	TransportUDP:     "udp",
	TransportUDP6:    "udp6",
	TransportTCP:     "tcp",
	TransportTCP6:    "tcp6",
	TransportRawEth:  "raweth",
	TransportNone:    "none",
}

func (s TransportSelector) String() string {
	if int(s) < 0 || int(s) >= len(transportSelectorNames) {
		return "unknown"
	}
	return transportSelectorNames[s]
}

// ParseTransportSelector parses the "selector" property's raw literal.
func ParseTransportSelector(raw string) (TransportSelector, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for s, name := range transportSelectorNames {
		if name == raw {
			return TransportSelector(s), nil
		}
	}
	return TransportDefault, coreerr.New(coreerr.CodeIncompatibleProp, fmt.Sprintf("invalid transport selector %q", raw))
}

// ResolvedTransport is the reconciled outcome of the selector/compat_tcp_enable/
// compat_use_ipv6 triple: a concrete transport plus the two compat flags
// renormalized to agree with it.
type ResolvedTransport struct {
	Selector      TransportSelector
	CompatTCP     BoolDefault
	CompatUseIPv6 BoolDefault
}

// DeriveTransport reconciles the "selector", "compat_tcp_enable" and
// "compat_use_ipv6" properties into one consistent transport choice.
//
// An unset selector defers entirely to the two compat flags. Any other
// selector is the authoritative choice, and it is an error for either
// compat flag to explicitly contradict it (an unset flag never
// contradicts; only an explicit false/true that disagrees does). Once
// resolved, both compat flags are renormalized to the value the chosen
// selector implies, so a caller never sees a stale or unset flag past this
// point.
func DeriveTransport(selector TransportSelector, compatTCP, compatUseIPv6 BoolDefault) (ResolvedTransport, error) {
	consistent := true
	switch selector {
	case TransportDefault:
		switch {
		case compatTCP == BoolTrue && compatUseIPv6 == BoolTrue:
			selector = TransportTCP6
		case compatTCP == BoolTrue:
			selector = TransportTCP
		case compatUseIPv6 == BoolTrue:
			selector = TransportUDP6
		default:
			selector = TransportUDP
		}
	case TransportTCP:
		consistent = !(compatTCP == BoolFalse || compatUseIPv6 == BoolTrue)
	case TransportTCP6:
		consistent = !(compatTCP == BoolFalse || compatUseIPv6 == BoolFalse)
	case TransportUDP:
		consistent = !(compatTCP == BoolTrue || compatUseIPv6 == BoolTrue)
	case TransportUDP6:
		consistent = !(compatTCP == BoolTrue || compatUseIPv6 == BoolFalse)
	case TransportRawEth, TransportNone:
		consistent = !(compatTCP == BoolTrue || compatUseIPv6 == BoolTrue)
	}
	if !consistent {
		return ResolvedTransport{}, coreerr.New(coreerr.CodeIncompatibleProp,
			fmt.Sprintf("invalid combination of transport %q, compat_tcp_enable=%s, compat_use_ipv6=%s", selector, compatTCP, compatUseIPv6))
	}

	resolved := ResolvedTransport{Selector: selector, CompatTCP: BoolFalse, CompatUseIPv6: BoolFalse}
	if selector == TransportUDP6 || selector == TransportTCP6 {
		resolved.CompatUseIPv6 = BoolTrue
	}
	if selector == TransportTCP || selector == TransportTCP6 {
		resolved.CompatTCP = BoolTrue
	}
	return resolved, nil
}
