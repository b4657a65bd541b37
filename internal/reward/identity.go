package reward

import (
	"strings"

	"github.com/crowdsense/crowdsense-worker/internal/measurement"
	"github.com/ethereum/go-ethereum/common"
)

// Resolver maps a submission to the address that should be credited for it
type Resolver interface {
	Resolve(sub measurement.Submission) (string, bool)
}

// ContributorResolver credits the submission's own contributor address and,
// when that is missing, the optional fallback identity.
type ContributorResolver struct {
	Fallback string
}

// Resolve implements Resolver
func (r ContributorResolver) Resolve(sub measurement.Submission) (string, bool) {
	if addr := NormalizeAddress(sub.ContributorAddress); addr != "" {
		return addr, true
	}
	if addr := NormalizeAddress(r.Fallback); addr != "" {
		return addr, true
	}
	return "", false
}

// NormalizeAddress trims the address and converts hex account addresses to
// their EIP-55 checksum form so differently-cased spellings aggregate together.
// Non-hex identities are returned trimmed but otherwise untouched.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}

// SameAddress reports whether a and b name the same contributor
func SameAddress(a, b string) bool {
	na, nb := NormalizeAddress(a), NormalizeAddress(b)
	return na != "" && na == nb
}
