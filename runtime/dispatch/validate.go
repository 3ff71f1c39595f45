package dispatch

import "strings"

// TenantAllowed reports whether a message asserting assertedTenant may be
// dispatched to a workflow owned by workflowTenant. System-scoped agents are
// shared infrastructure and accept any tenant. An empty assertion is a
// wildcard: the message is addressed by workflow id alone, and the workflow
// id already pins the tenant. A non-empty assertion must match exactly. The
// workflow tenant comes from the workflow ID, never from message content, so
// a forged message body cannot widen access.
func TenantAllowed(meta *HandlerMetadata, workflowTenant, assertedTenant string) bool {
	if meta.SystemScoped {
		return true
	}
	asserted := strings.TrimSpace(assertedTenant)
	if asserted == "" {
		return true
	}
	return asserted == workflowTenant
}

// AgentMatches reports whether the message's target agent is compatible with
// the registered agent. An empty target is a wildcard: the message was
// addressed to the workflow, not to a specific agent. Comparison is
// case-sensitive after trimming surrounding whitespace.
func AgentMatches(meta *HandlerMetadata, messageAgent string) bool {
	target := strings.TrimSpace(messageAgent)
	if target == "" {
		return true
	}
	return target == strings.TrimSpace(meta.AgentName)
}
