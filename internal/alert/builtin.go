package alert

// builtinRules returns all built-in watch rules.
// These are always loaded and can be individually toggled on/off
// via the "builtin" section in alerts.yaml.
//
// Built-in rules cover the event patterns most audit reviewers care
// about out of the box:
//   - Authentication failures and credential changes
//   - Privilege and role escalation
//   - Destructive operations (deletes, purges)
//   - Bulk data exports
//   - API key and token lifecycle
func builtinRules() []Rule {
	return []Rule{
		// --- Authentication ---
		{
			Name:     "flag_auth_failures",
			Match:    RuleMatch{Event: stringOrList{"auth.login.failed", "auth.mfa.failed"}},
			Severity: "warning",
			Message:  "Failed authentication attempt",
			Builtin:  true,
		},
		{
			Name:     "flag_password_changes",
			Match:    RuleMatch{Event: stringOrList{"auth.password.changed", "auth.password.reset"}},
			Severity: "info",
			Message:  "Credential change",
			Builtin:  true,
		},
		{
			Name:     "flag_mfa_disabled",
			Match:    RuleMatch{Event: stringOrList{"auth.mfa.disabled"}},
			Severity: "critical",
			Message:  "Multi-factor authentication disabled",
			Builtin:  true,
		},

		// --- Privilege escalation ---
		// The admin grant rule comes before the generic role change rule
		// so an admin grant reports the critical severity.
		{
			Name:     "flag_admin_grant",
			Match:    RuleMatch{Event: stringOrList{"user.role.**"}, DataContains: stringOrList{"admin", "owner", "superuser"}},
			Severity: "critical",
			Message:  "Administrative privilege granted",
			Builtin:  true,
		},
		{
			Name:     "flag_role_changes",
			Match:    RuleMatch{Event: stringOrList{"user.role.changed", "user.role.granted"}},
			Severity: "warning",
			Message:  "User role change",
			Builtin:  true,
		},

		// --- Destructive operations ---
		{
			Name:     "flag_deletions",
			Match:    RuleMatch{Event: stringOrList{"**.deleted", "**.purged"}},
			Severity: "warning",
			Message:  "Destructive operation",
			Builtin:  true,
		},

		// --- Data movement ---
		{
			Name:     "flag_exports",
			Match:    RuleMatch{Event: stringOrList{"data.export.**", "report.export.**"}},
			Severity: "warning",
			Message:  "Bulk data export",
			Builtin:  true,
		},

		// --- API credentials ---
		{
			Name:     "flag_api_key_created",
			Match:    RuleMatch{Event: stringOrList{"apikey.created", "token.created"}},
			Severity: "info",
			Message:  "API credential issued",
			Builtin:  true,
		},
		{
			Name:     "flag_api_key_leak",
			Match:    RuleMatch{DataRegex: `(sk|pk)_(live|prod)_[A-Za-z0-9]{16,}`},
			Severity: "critical",
			Message:  "Possible API key in event payload",
			Builtin:  true,
		},
	}
}

// defaultBuiltinToggles returns the default enable/disable state for each
// built-in rule.
func defaultBuiltinToggles() map[string]bool {
	return map[string]bool{
		// Authentication — failures and MFA on, routine changes off.
		"flag_auth_failures":    true,
		"flag_password_changes": false,
		"flag_mfa_disabled":     true,

		// Privilege escalation — on by default.
		"flag_role_changes": true,
		"flag_admin_grant":  true,

		// Destructive operations — on by default.
		"flag_deletions": true,

		// Data movement — on by default.
		"flag_exports": true,

		// API credentials — creation off (noisy), leaks on.
		"flag_api_key_created": false,
		"flag_api_key_leak":    true,
	}
}
