package drivemaps

import (
	"regexp"
	"strings"
)

// Resolver answers directory lookups for filter tokens. A (false, nil)
// result means the token has no directory match and is dropped; a non-nil
// error is a directory failure and aborts the whole run.
type Resolver interface {
	ResolvePrincipal(domain, name string) (sid string, ok bool, err error)
	ResolveOrgUnit(dn string) (ok bool, err error)
}

// The two token shapes are extracted independently over the raw expression.
// They are structurally disjoint in practice, so no disambiguation beyond
// the patterns themselves is attempted.
var (
	principalPattern = regexp.MustCompile(`\w[-\w]*\\[-\w]+`)
	orgUnitPattern   = regexp.MustCompile(`(?:OU=[\pL\pN ]+,)+DC=\w+(?:,DC=\w+)*`)
)

// DroppedToken records a filter token that matched a pattern but had no
// directory match. Drops never fail the run; they are surfaced so typos in
// group or OU names do not vanish silently.
type DroppedToken struct {
	Row   int
	Kind  string // "principal" or "orgunit"
	Token string
}

// ExtractPrincipalTokens returns all domain\name shaped substrings in order.
func ExtractPrincipalTokens(expr string) []string {
	return principalPattern.FindAllString(expr, -1)
}

// ExtractOrgUnitTokens returns all distinguished-name shaped substrings in
// order.
func ExtractOrgUnitTokens(expr string) []string {
	return orgUnitPattern.FindAllString(expr, -1)
}

// ResolveFilters tokenizes the expression and resolves every token against
// the directory. Unresolved tokens are returned as drops, resolution order
// is preserved, and the only error condition is a failed directory call.
func ResolveFilters(expr string, resolver Resolver) ([]FilterGroup, []FilterOrgUnit, []DroppedToken, error) {
	var groups []FilterGroup
	var orgUnits []FilterOrgUnit
	var dropped []DroppedToken

	for _, token := range ExtractPrincipalTokens(expr) {
		parts := strings.SplitN(token, `\`, 2)
		sid, ok, err := resolver.ResolvePrincipal(parts[0], parts[1])
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			dropped = append(dropped, DroppedToken{Kind: "principal", Token: token})
			continue
		}
		groups = append(groups, FilterGroup{
			Bool:         "OR",
			Not:          "0",
			Name:         strings.TrimSpace(token),
			SID:          sid,
			UserContext:  "1",
			PrimaryGroup: "0",
			LocalGroup:   "0",
		})
	}

	for _, token := range ExtractOrgUnitTokens(expr) {
		ok, err := resolver.ResolveOrgUnit(token)
		if err != nil {
			return nil, nil, nil, err
		}
		if !ok {
			dropped = append(dropped, DroppedToken{Kind: "orgunit", Token: token})
			continue
		}
		orgUnits = append(orgUnits, FilterOrgUnit{
			Bool:         "OR",
			Not:          "0",
			Name:         strings.TrimSpace(token),
			UserContext:  "1",
			DirectMember: "0",
		})
	}

	return groups, orgUnits, dropped, nil
}
