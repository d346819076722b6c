package agents

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentlane/execution-gateway/internal/adapters"
	"github.com/agentlane/execution-gateway/internal/config"
)

// Catalog holds the loaded agent definitions, versions ordered newest
// first per id. Immutable after load.
type Catalog struct {
	byID map[string][]*Definition
}

type catalogFile struct {
	Agents []*Definition `yaml:"agents"`
}

// LoadFile reads and validates the agent catalog from a YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}
	return Load(data)
}

// Load parses and validates a catalog from raw YAML. Any invalid
// definition rejects the whole catalog so configuration mistakes surface
// at startup, not at request time.
func Load(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("agents file declares no agents")
	}

	catalog := &Catalog{byID: make(map[string][]*Definition)}
	seen := make(map[string]bool)

	for _, def := range file.Agents {
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		key := def.ID + "@" + def.Version
		if seen[key] {
			return nil, fmt.Errorf("agent %q version %q declared twice", def.ID, def.Version)
		}
		seen[key] = true
		catalog.byID[def.ID] = append(catalog.byID[def.ID], def)
	}

	for _, defs := range catalog.byID {
		sort.Slice(defs, func(i, j int) bool {
			return compareVersions(defs[i].Version, defs[j].Version) > 0
		})
	}

	return catalog, nil
}

func validateDefinition(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("agent with empty id")
	}
	if def.Version == "" {
		return fmt.Errorf("agent %q: missing version", def.ID)
	}
	if _, err := ParseKind(string(def.Kind)); err != nil {
		return fmt.Errorf("agent %q: %w", def.ID, err)
	}
	if def.UserPrompt == "" {
		return fmt.Errorf("agent %q: missing user_prompt", def.ID)
	}

	if def.Model.Provider == "" || adapters.ProviderFromString(string(def.Model.Provider)) == adapters.ProviderUnknown {
		return fmt.Errorf("agent %q: unknown provider %q", def.ID, def.Model.Provider)
	}
	if def.Model.Model == "" {
		return fmt.Errorf("agent %q: missing model", def.ID)
	}
	for _, route := range def.Model.Fallbacks {
		if route.Provider == "" || adapters.ProviderFromString(string(route.Provider)) == adapters.ProviderUnknown {
			return fmt.Errorf("agent %q: fallback has unknown provider %q", def.ID, route.Provider)
		}
		if route.Model == "" {
			return fmt.Errorf("agent %q: fallback missing model", def.ID)
		}
	}

	// Every placeholder must be declared so typos fail at load.
	declared := def.declaredVars()
	for _, tpl := range []string{def.SystemPrompt, def.UserPrompt} {
		for _, name := range templateVars(tpl) {
			if !declared[name] {
				return fmt.Errorf("agent %q: undeclared template variable %q", def.ID, name)
			}
		}
	}

	if def.Model.MaxTokens <= 0 {
		def.Model.MaxTokens = config.DefaultMaxCompletionTokens
	}
	if def.Model.Timeout <= 0 {
		def.Model.Timeout = config.DefaultRequestTimeout
	}
	return nil
}

// Get resolves an agent by id and version. An empty or "latest" version
// resolves to the newest version by the catalog's total ordering.
func (c *Catalog) Get(id, version string) (*Definition, error) {
	defs := c.byID[id]
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if version == "" || version == "latest" {
		return defs[0], nil
	}
	for _, def := range defs {
		if def.Version == version {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %q version %q", ErrNotFound, id, version)
}

// List returns every definition, ordered by id then newest version first.
func (c *Catalog) List() []*Definition {
	ids := make([]string, 0, len(c.byID))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*Definition
	for _, id := range ids {
		out = append(out, c.byID[id]...)
	}
	return out
}

// compareVersions orders version strings: split on dots, numeric segments
// compare numerically, mixed segments lexicographically, and the longer
// version wins a shared prefix. Returns -1, 0 or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
			continue
		}
		if cmp := strings.Compare(as[i], bs[i]); cmp != 0 {
			return cmp
		}
	}

	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	default:
		return 0
	}
}
