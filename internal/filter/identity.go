package filter

import (
	"strings"

	"github.com/shineum/form-relay/internal/submission"
)

// Identity filter reasons, in priority order.
const (
	ReasonInvalidAddress     = "Invalid email format"
	ReasonAddressBlacklisted = "Email address is blacklisted"
	ReasonDomainBlacklisted  = "Email domain is blacklisted"
	ReasonDomainNotAllowed   = "Email domain is not in the whitelist"
)

// IdentityFilter applies the sender address and domain lists. An exact
// address match on the blacklist wins over a domain blacklist, which wins
// over the domain whitelist.
type IdentityFilter struct {
	blockedAddresses map[string]struct{}
	blockedDomains   map[string]struct{}
	allowedDomains   map[string]struct{}
}

// NewIdentityFilter creates an IdentityFilter from cfg.
func NewIdentityFilter(cfg Config) *IdentityFilter {
	return &IdentityFilter{
		blockedAddresses: lowerSet(cfg.BlockedAddresses),
		blockedDomains:   lowerSet(cfg.BlockedDomains),
		allowedDomains:   lowerSet(cfg.AllowedDomains),
	}
}

// Enabled reports whether any list is configured.
func (f *IdentityFilter) Enabled() bool {
	return len(f.blockedAddresses)+len(f.blockedDomains)+len(f.allowedDomains) > 0
}

// Check evaluates the rule.
func (f *IdentityFilter) Check(sub submission.Submission) Verdict {
	if !f.Enabled() {
		return Allowed
	}

	addr := sub.NormalizedEmail()
	domain, ok := ExtractDomain(addr)
	if !ok {
		return blocked(ReasonInvalidAddress)
	}

	if _, hit := f.blockedAddresses[addr]; hit {
		return blocked(ReasonAddressBlacklisted)
	}
	if _, hit := f.blockedDomains[domain]; hit {
		return blocked(ReasonDomainBlacklisted)
	}
	if len(f.allowedDomains) > 0 {
		if _, hit := f.allowedDomains[domain]; !hit {
			return blocked(ReasonDomainNotAllowed)
		}
	}
	return Allowed
}

// ExtractDomain returns the lower-cased part after the '@'. Addresses with no
// '@', more than one '@', or an empty local part or domain are malformed.
func ExtractDomain(addr string) (string, bool) {
	parts := strings.Split(addr, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return strings.ToLower(parts[1]), true
}
