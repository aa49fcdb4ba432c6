// ABOUTME: Package documentation for conversation
// ABOUTME: Direct and group conversation services plus API view projections

// Package conversation implements the conversation and group services.
//
// The conversation service covers direct conversation creation, per-user
// conversation lists with unread counts, and cursor-paginated history. The
// group service layers membership and role management on top, recording
// every membership change as a SYSTEM message in the conversation itself.
// Both return view types that are safe to serialize to clients; store rows
// never cross the API boundary directly.
package conversation
