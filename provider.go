package numstock

import (
	"fmt"
	"strings"
)

// Provider identifies the mobile network a number belongs to. Values are
// derived from number prefixes at ingestion time and stored alongside each
// pool row, so orders can filter on them without re-deriving.
type Provider string

// ProviderOther is assigned to numbers matching no configured prefix.
const ProviderOther Provider = "other"

// PrefixTable maps number prefixes to providers. Longer prefixes win when
// several match the same number.
type PrefixTable map[string]Provider

// DefaultPrefixes returns the built-in prefix mapping.
func DefaultPrefixes() PrefixTable {
	return PrefixTable{
		"0812": "tsel",
		"0857": "isat",
		"0819": "xl",
	}
}

// Provider returns the provider for number, or ProviderOther when no prefix
// matches.
func (t PrefixTable) Provider(number string) Provider {
	best := ProviderOther
	bestLen := 0
	for prefix, provider := range t {
		if len(prefix) > bestLen && strings.HasPrefix(number, prefix) {
			best = provider
			bestLen = len(prefix)
		}
	}
	return best
}

// Validate checks that every entry has a non-empty prefix and provider.
func (t PrefixTable) Validate() error {
	for prefix, provider := range t {
		if prefix == "" {
			return fmt.Errorf("prefix cannot be empty")
		}
		if provider == "" {
			return fmt.Errorf("prefix %s maps to an empty provider", prefix)
		}
	}
	return nil
}

// ParsePrefixTable parses a comma-separated list of prefix=provider pairs,
// e.g. "0812=tsel,0857=isat". Whitespace around pairs is ignored.
func ParsePrefixTable(s string) (PrefixTable, error) {
	table := make(PrefixTable)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		prefix, provider, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid prefix mapping %q: want prefix=provider", pair)
		}
		table[strings.TrimSpace(prefix)] = Provider(strings.TrimSpace(provider))
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}
