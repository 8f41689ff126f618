package alert

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/auditchain/auditchain/internal/chain"
	"github.com/gobwas/glob"
)

// compiledMatcher holds pre-compiled patterns for a rule.
// Compiling regex and glob patterns once at load time keeps per-event
// evaluation cheap on the ingest hot path.
type compiledMatcher struct {
	eventGlobs []glob.Glob
	dataRegex  *regexp.Regexp
	ipRegex    *regexp.Regexp
}

// compileMatcher pre-compiles all pattern matchers for a rule.
// Returns an error if any regex or glob pattern is invalid.
func compileMatcher(r *Rule) error {
	r.compiled = &compiledMatcher{}

	// Event types are dot-separated ("user.login.failed"), so '.' is the
	// glob separator: "user.*" matches "user.deleted" but not
	// "user.role.changed", while "user.**" matches both.
	for _, p := range r.Match.Event {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return fmt.Errorf("rule %q: invalid event glob %q: %w", r.Name, p, err)
		}
		r.compiled.eventGlobs = append(r.compiled.eventGlobs, g)
	}

	if r.Match.DataRegex != "" {
		re, err := regexp.Compile(r.Match.DataRegex)
		if err != nil {
			return fmt.Errorf("rule %q: invalid data_regex: %w", r.Name, err)
		}
		r.compiled.dataRegex = re
	}

	if r.Match.IPRegex != "" {
		re, err := regexp.Compile(r.Match.IPRegex)
		if err != nil {
			return fmt.Errorf("rule %q: invalid ip_regex: %w", r.Name, err)
		}
		r.compiled.ipRegex = re
	}

	return nil
}

// matchesRule checks whether a record matches a rule's conditions.
// All non-empty match fields must be satisfied (AND logic).
// Returns true if the rule fires for this record.
func matchesRule(r *Rule, rec chain.Record) bool {
	m := r.Match

	// Event type glob match (OR across list).
	if len(m.Event) > 0 {
		if r.compiled == nil || len(r.compiled.eventGlobs) == 0 {
			return false
		}
		matched := false
		for _, g := range r.compiled.eventGlobs {
			if g.Match(rec.EventType) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Organization match (exact).
	if m.Org != "" && m.Org != rec.OrganizationID {
		return false
	}

	// User match (exact, OR across list).
	if len(m.User) > 0 {
		if rec.UserID == nil {
			return false
		}
		matched := false
		for _, u := range m.User {
			if u == *rec.UserID {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Payload substring match (case-insensitive, OR across list).
	// Searches the JSON representation of the event data.
	if len(m.DataContains) > 0 {
		dataLower := strings.ToLower(dataJSON(rec.EventData))
		matched := false
		for _, s := range m.DataContains {
			if strings.Contains(dataLower, strings.ToLower(s)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	// Payload regex match against the JSON representation.
	if r.compiled != nil && r.compiled.dataRegex != nil {
		if !r.compiled.dataRegex.MatchString(dataJSON(rec.EventData)) {
			return false
		}
	}

	// Source IP regex match.
	if r.compiled != nil && r.compiled.ipRegex != nil {
		if rec.IPAddress == nil || !r.compiled.ipRegex.MatchString(*rec.IPAddress) {
			return false
		}
	}

	// All non-empty conditions matched.
	return true
}

// dataJSON renders an event payload as JSON text for substring and regex
// matching. Returns "" if the payload is nil or unmarshalable.
func dataJSON(data any) string {
	if data == nil {
		return ""
	}
	b, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(b)
}
