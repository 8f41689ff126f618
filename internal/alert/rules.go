// Package alert implements the watch rule engine for incoming audit
// events.
//
// The engine loads rules from alerts.yaml (custom) and merges them with
// built-in watch rules. Each event appended to a chain is evaluated
// against the rule set in order — first match wins. A matched rule flags
// the event: it is still appended (the ledger is append-only and never
// rejects on content), but the flag increments the organization's
// flagged-event counter and is broadcast to connected dashboards.
//
// Rule matching supports:
//   - Event type glob patterns ('.' separated, string or list, OR logic)
//   - Organization ID (exact match)
//   - User ID (string or list, OR logic)
//   - Payload substrings (string or list, case-insensitive, OR logic)
//   - Payload regex
//   - Source IP regex
package alert

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule defines a single watch rule. Each rule has a match condition and a
// severity assigned when the condition is met.
type Rule struct {
	Name     string    `yaml:"name"`
	Match    RuleMatch `yaml:"match"`
	Severity string    `yaml:"severity"` // "info", "warning" or "critical"
	Message  string    `yaml:"message"`  // Human-readable explanation.
	Builtin  bool      `yaml:"-"`        // True for built-in rules (not serialized).

	// compiled holds pre-compiled matchers (regex, glob).
	// Set by compileMatcher() after loading.
	compiled *compiledMatcher
}

// RuleMatch defines the conditions under which a rule fires.
// All non-empty fields must match for the rule to trigger (AND logic).
// Within list fields like Event and User, any value matching is
// sufficient (OR logic).
type RuleMatch struct {
	Event        stringOrList `yaml:"event"`
	Org          string       `yaml:"org"`
	User         stringOrList `yaml:"user"`
	DataContains stringOrList `yaml:"data_contains"`
	DataRegex    string       `yaml:"data_regex"`
	IPRegex      string       `yaml:"ip_regex"`
}

// stringOrList handles YAML fields that can be either a single string
// or a list of strings. In alerts.yaml, users can write either:
//
//	event: user.deleted             # single string
//	event: [user.deleted, user.*]   # list of strings
type stringOrList []string

// UnmarshalYAML handles both "event: user.deleted" and "event: [a, b]".
func (s *stringOrList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("expected string or list, got %v", value.Kind)
	}
}

// Decision is the outcome of evaluating an event against the rule set.
type Decision struct {
	Flagged  bool   // True if any rule matched.
	Rule     string // Name of the rule that matched (empty if none).
	Severity string // Severity from the matched rule.
	Message  string // Human-readable reason (from the rule).
}

// RuleInfo is a summary of a rule for display (used by `auditchain alerts list`).
type RuleInfo struct {
	Name     string
	Builtin  bool
	Severity string
	Message  string
}

// rulesFile is the YAML envelope for alerts.yaml.
type rulesFile struct {
	Rules   []Rule          `yaml:"rules"`
	Builtin map[string]bool `yaml:"builtin"`
}

// loadRulesFromFile reads and parses custom rules from the given YAML path.
// Returns an empty slice if the file doesn't exist (not an error).
func loadRulesFromFile(path string) ([]Rule, map[string]bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading alert rules %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil, nil
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("parsing alert rules %s: %w", path, err)
	}

	return file.Rules, file.Builtin, nil
}

// saveRulesToFile writes custom rules to the given YAML path.
// Only saves custom rules (not built-in) and the builtin toggle map.
func saveRulesToFile(path string, customRules []Rule, builtinToggles map[string]bool) error {
	file := rulesFile{
		Rules:   customRules,
		Builtin: builtinToggles,
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("marshaling alert rules: %w", err)
	}

	header := "# auditchain Watch Rules\n# Events matching a rule are flagged and surfaced on the dashboard.\n\n"
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// WriteDefaultRules writes a default alerts.yaml with all built-in rules
// in their default toggle state. Used by the first-run setup.
func WriteDefaultRules(path string) error {
	builtinToggles := defaultBuiltinToggles()
	return saveRulesToFile(path, nil, builtinToggles)
}
