package agents

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/config"
)

const testCatalogYAML = `
agents:
  - id: summarize-ticket
    version: "1.0.0"
    name: Ticket Summarizer
    kind: generation
    system_prompt: You summarize support tickets.
    user_prompt: "Summarize this ticket: {{ticket_body}}"
    input:
      required: [ticket_body]
      max_chars: 5000
    model:
      provider: anthropic
      model: claude-sonnet-4-5
      max_tokens: 512
      temperature: 0.3
      timeout: 90s
      fallbacks:
        - provider: openai
          model: gpt-4o
    estimated_tokens: 800

  - id: summarize-ticket
    version: "1.2.0"
    kind: generation
    user_prompt: "Summarize concisely: {{ticket_body}}"
    input:
      required: [ticket_body]
    model:
      provider: anthropic
      model: claude-sonnet-4-5

  - id: extract-invoice
    version: "0.4.1"
    kind: extraction
    user_prompt: "Extract fields from: {{invoice_text}}"
    input:
      required: [invoice_text]
      optional: [hints]
    output:
      required_fields: [vendor, total]
    model:
      provider: openai
      model: gpt-4o-mini
`

func loadTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := Load([]byte(testCatalogYAML))
	require.NoError(t, err)
	return catalog
}

func TestLoadAppliesPolicyDefaults(t *testing.T) {
	catalog := loadTestCatalog(t)

	def, err := catalog.Get("summarize-ticket", "1.2.0")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMaxCompletionTokens, def.Model.MaxTokens)
	assert.Equal(t, config.DefaultRequestTimeout, def.Model.Timeout)

	pinned, err := catalog.Get("summarize-ticket", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, 512, pinned.Model.MaxTokens)
	assert.Equal(t, 90*time.Second, pinned.Model.Timeout)
}

func TestGetResolvesLatest(t *testing.T) {
	catalog := loadTestCatalog(t)

	for _, version := range []string{"", "latest"} {
		def, err := catalog.Get("summarize-ticket", version)
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", def.Version)
	}
}

func TestGetUnknownAgent(t *testing.T) {
	catalog := loadTestCatalog(t)

	_, err := catalog.Get("nonexistent", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = catalog.Get("summarize-ticket", "9.9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByIDThenVersion(t *testing.T) {
	catalog := loadTestCatalog(t)

	defs := catalog.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "extract-invoice", defs[0].ID)
	assert.Equal(t, "1.2.0", defs[1].Version)
	assert.Equal(t, "1.0.0", defs[2].Version)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogYAML), 0600))

	catalog, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, catalog.List(), 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadRejections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "Unknown kind",
			yaml:    testAgentYAML("a", "classification", "{{x}}", "anthropic", "claude-haiku-4-5", "[x]"),
			wantErr: "unsupported agent kind",
		},
		{
			name:    "Unknown provider",
			yaml:    testAgentYAML("a", "generation", "{{x}}", "grok", "grok-1", "[x]"),
			wantErr: "unknown provider",
		},
		{
			name:    "Undeclared template variable",
			yaml:    testAgentYAML("a", "generation", "{{mystery}}", "anthropic", "claude-haiku-4-5", "[]"),
			wantErr: "undeclared template variable",
		},
		{
			name:    "Missing version",
			yaml:    "agents:\n  - id: a\n    kind: generation\n    user_prompt: hi\n    model: {provider: mock, model: m}\n",
			wantErr: "missing version",
		},
		{
			name:    "Duplicate id and version",
			yaml:    testAgentYAML("a", "generation", "{{x}}", "mock", "m", "[x]") + testAgentDupe(),
			wantErr: "declared twice",
		},
		{
			name:    "Empty catalog",
			yaml:    "agents: []\n",
			wantErr: "no agents",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func testAgentYAML(id, kind, userPrompt, provider, model, required string) string {
	return "agents:\n" + testAgentEntry(id, kind, userPrompt, provider, model, required)
}

func testAgentEntry(id, kind, userPrompt, provider, model, required string) string {
	return "  - id: " + id + "\n" +
		"    version: \"1.0.0\"\n" +
		"    kind: " + kind + "\n" +
		"    user_prompt: '" + userPrompt + "'\n" +
		"    input: {required: " + required + "}\n" +
		"    model: {provider: " + provider + ", model: " + model + "}\n"
}

func testAgentDupe() string {
	return testAgentEntry("a", "generation", "{{x}}", "mock", "m", "[x]")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.2.0", "1.10.0", -1},
		{"2.0", "1.9.9", 1},
		{"1.0", "1.0.1", -1},
		{"1.0.0-beta", "1.0.0-alpha", 1},
		{"10", "9", 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, compareVersions(tt.a, tt.b), "compare(%q, %q)", tt.a, tt.b)
	}
}

func TestRoutes(t *testing.T) {
	catalog := loadTestCatalog(t)

	def, err := catalog.Get("summarize-ticket", "1.0.0")
	require.NoError(t, err)

	routes := def.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, adapters.ProviderAnthropic, routes[0].Provider)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", routes[0].String())
	assert.Equal(t, "openai/gpt-4o", routes[1].String())
}
