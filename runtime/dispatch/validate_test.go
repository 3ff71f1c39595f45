package dispatch

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestTenantAllowed(t *testing.T) {
	tenantScoped := &HandlerMetadata{AgentName: "a"}
	systemScoped := &HandlerMetadata{AgentName: "a", SystemScoped: true}

	assert.True(t, TenantAllowed(tenantScoped, "acme", "acme"))
	assert.False(t, TenantAllowed(tenantScoped, "acme", "globex"))
	assert.True(t, TenantAllowed(systemScoped, "acme", "globex"))
	assert.True(t, TenantAllowed(systemScoped, "acme", ""))
}

func TestTenantAllowedEmptyAssertionIsWildcard(t *testing.T) {
	tenantScoped := &HandlerMetadata{AgentName: "a"}

	// A message addressed by workflow id alone asserts no tenant; the id
	// already pins the tenant, so the empty assertion passes.
	assert.True(t, TenantAllowed(tenantScoped, "acme", ""))
	assert.True(t, TenantAllowed(tenantScoped, "acme", "   "))
}

func TestAgentMatches(t *testing.T) {
	meta := &HandlerMetadata{AgentName: "Router Agent"}

	assert.True(t, AgentMatches(meta, ""))
	assert.True(t, AgentMatches(meta, "   "))
	assert.True(t, AgentMatches(meta, "Router Agent"))
	assert.True(t, AgentMatches(meta, "  Router Agent  "))
	assert.False(t, AgentMatches(meta, "router agent"))
	assert.False(t, AgentMatches(meta, "Other Agent"))
}

func TestTenantAllowedProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("system-scoped accepts any tenant pair", prop.ForAll(
		func(workflowTenant, assertedTenant string) bool {
			meta := &HandlerMetadata{AgentName: "a", SystemScoped: true}
			return TenantAllowed(meta, workflowTenant, assertedTenant)
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("tenant-scoped accepts only exact matches or no assertion", prop.ForAll(
		func(workflowTenant, assertedTenant string) bool {
			meta := &HandlerMetadata{AgentName: "a"}
			got := TenantAllowed(meta, workflowTenant, assertedTenant)
			trimmed := strings.TrimSpace(assertedTenant)
			return got == (trimmed == "" || trimmed == workflowTenant)
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("empty target agent always matches", prop.ForAll(
		func(agentName string) bool {
			meta := &HandlerMetadata{AgentName: agentName}
			return AgentMatches(meta, "")
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
