// Package ingest implements the HTTP handler that accepts audit events
// and appends them to the ledger.
//
// The ingest path:
//  1. Parses the URL to extract the organization ID
//  2. Checks the freeze switch before accepting
//  3. Validates and decodes the event body
//  4. Appends the event to the organization's chain
//  5. Evaluates the record against the alert rule engine
//  6. Updates the organization registry
//  7. Broadcasts the record to the dashboard WebSocket feed
package ingest

import (
	"fmt"
	"strings"
)

// RouteInfo holds the parsed components of an incoming ingest request URL.
//
// URL format: /api/orgs/{orgID}/events
//
// Example:
//
//	/api/orgs/org-acme/events → OrgID="org-acme"
type RouteInfo struct {
	OrgID string
}

// ParseRoute parses a request URL path into its route components.
//
// Path format: /api/orgs/{orgID}/events
// The organization ID segment must be non-empty; the path must end with
// the literal "events" segment.
func ParseRoute(path string) (RouteInfo, error) {
	// Strip leading slash and split into segments.
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")

	// Exactly: "api" / "orgs" / {orgID} / "events"
	if len(parts) != 4 || parts[0] != "api" || parts[1] != "orgs" || parts[3] != "events" {
		return RouteInfo{}, fmt.Errorf("invalid path: expected /api/orgs/{org}/events")
	}

	if parts[2] == "" {
		return RouteInfo{}, fmt.Errorf("invalid path: empty organization ID")
	}

	return RouteInfo{OrgID: parts[2]}, nil
}
