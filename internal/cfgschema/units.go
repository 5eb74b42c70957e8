package cfgschema

import (
	"fmt"
	"strconv"
	"strings"

	"ddscore/internal/coreerr"
)

// DurationUnits are the accepted suffixes for KindDuration nodes, in
// nanoseconds, plus "" for the schema's declared default multiplier.
func DurationUnits(defaultMultiplier int64) map[string]int64 {
	return map[string]int64{
		"":    defaultMultiplier,
		"ns":  1,
		"us":  1_000,
		"ms":  1_000_000,
		"s":   1_000_000_000,
		"min": 60 * 1_000_000_000,
		"hr":  3600 * 1_000_000_000,
	}
}

// MemSizeUnits are the accepted suffixes for KindMemSize nodes, in bytes.
func MemSizeUnits(defaultMultiplier int64) map[string]int64 {
	return map[string]int64{
		"":   defaultMultiplier,
		"B":  1,
		"KB": 1 << 10,
		"MB": 1 << 20,
		"GB": 1 << 30,
	}
}

// parseUnitValue reads a leading integer or floating-point literal from
// raw, then an optional unit suffix looked up in units. A missing suffix
// on a nonzero value is accepted (assuming the schema's default
// multiplier) but reported via warnDeprecatedUnit so the caller can emit a
// deprecation warning; zero is always accepted without a suffix.
func parseUnitValue(raw string, units map[string]int64) (value int64, warnDeprecatedUnit bool, err error) {
	raw = strings.TrimSpace(raw)
	i := 0
	for i < len(raw) && (raw[i] == '.' || raw[i] == '-' || raw[i] == '+' || (raw[i] >= '0' && raw[i] <= '9')) {
		i++
	}
	numPart, unitPart := raw[:i], strings.TrimSpace(raw[i:])

	f, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, false, coreerr.Wrap(err, coreerr.CodeInvalidUnit, fmt.Sprintf("invalid numeric literal %q", raw))
	}

	mult, ok := units[unitPart]
	if !ok {
		return 0, false, coreerr.New(coreerr.CodeInvalidUnit, fmt.Sprintf("unknown unit %q", unitPart))
	}
	if unitPart == "" && f != 0 {
		warnDeprecatedUnit = true
	}
	return int64(f * float64(mult)), warnDeprecatedUnit, nil
}
