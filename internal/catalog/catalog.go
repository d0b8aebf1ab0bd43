// Package catalog serves the static product content the dashboard renders:
// life domains, their subdomains and agents, the agent marketplace,
// domain templates and mock dashboard data. The content is embedded YAML.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nousos/nous/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// ErrNotFound is returned when a catalog entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// AgentLog is a recent log line of an installed agent.
type AgentLog struct {
	ID        string `json:"id" yaml:"id"`
	Agent     string `json:"agent" yaml:"agent"`
	Message   string `json:"message" yaml:"message"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
	Type      string `json:"type" yaml:"type"` // info | success | warning | error
}

// AgentTask is a scheduled job of an installed agent.
type AgentTask struct {
	ID        string `json:"id" yaml:"id"`
	Agent     string `json:"agent" yaml:"agent"`
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"` // running | scheduled | paused
	Frequency string `json:"frequency" yaml:"frequency"`
	LastRun   string `json:"lastRun" yaml:"lastRun"`
	NextRun   string `json:"nextRun" yaml:"nextRun"` // "" when paused
}

// Dashboard is the mock home screen data.
type Dashboard struct {
	User       map[string]any   `json:"user" yaml:"user"`
	Health     map[string]any   `json:"health" yaml:"health"`
	Finance    map[string]any   `json:"finance" yaml:"finance"`
	Activities []map[string]any `json:"activities" yaml:"activities"`
}

// marketplaceEntry references MCPs by id; they are resolved at load.
type marketplaceEntry struct {
	domain.MarketplaceAgent `yaml:",inline"`
	Requires                []string `yaml:"requires"`
	Optional                []string `yaml:"optional"`
}

type document struct {
	Domains           []domain.LifeDomain           `yaml:"domains"`
	Subdomains        []domain.Subdomain            `yaml:"subdomains"`
	VariableValues    map[string]string             `yaml:"variableValues"`
	MCPs              map[string]domain.MCP         `yaml:"mcps"`
	Marketplace       []marketplaceEntry            `yaml:"marketplace"`
	SearchSuggestions []string                      `yaml:"searchSuggestions"`
	Templates         []domain.Template             `yaml:"templates"`
	AgentOutputs      map[string]domain.AgentOutput `yaml:"agentOutputs"`
	AgentLogs         []AgentLog                    `yaml:"agentLogs"`
	AgentTasks        []AgentTask                   `yaml:"agentTasks"`
	Dashboard         Dashboard                     `yaml:"dashboard"`
}

// Catalog is an indexed, read-only view of the catalog content. Values
// returned by accessors share nested slices and maps with the catalog and
// must not be modified.
type Catalog struct {
	doc         document
	domains     map[string]int
	marketplace map[string]int
	templates   map[string]int
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the catalog built from the embedded content.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(embedded)
	})
	return defaultCat, defaultErr
}

// Parse builds a catalog from YAML content.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		doc:         doc,
		domains:     make(map[string]int, len(doc.Domains)),
		marketplace: make(map[string]int, len(doc.Marketplace)),
		templates:   make(map[string]int, len(doc.Templates)),
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) index() error {
	for i, d := range c.doc.Domains {
		if d.ID == "" {
			return fmt.Errorf("catalog: domain %d has no id", i)
		}
		if _, dup := c.domains[d.ID]; dup {
			return fmt.Errorf("catalog: duplicate domain %q", d.ID)
		}
		c.domains[d.ID] = i
	}

	seen := make(map[string]bool)
	for i := range c.doc.Subdomains {
		s := &c.doc.Subdomains[i]
		di, ok := c.domains[s.DomainID]
		if !ok {
			return fmt.Errorf("catalog: subdomain %q references unknown domain %q", s.ID, s.DomainID)
		}
		key := s.DomainID + "/" + s.ID
		if seen[key] {
			return fmt.Errorf("catalog: duplicate subdomain %q", key)
		}
		seen[key] = true
		s.AgentCount = len(s.Agents)
		c.doc.Domains[di].Subdomains++
	}

	for i := range c.doc.Marketplace {
		m := &c.doc.Marketplace[i]
		if _, dup := c.marketplace[m.ID]; dup {
			return fmt.Errorf("catalog: duplicate marketplace agent %q", m.ID)
		}
		var err error
		if m.RequiredMCPs, err = c.resolveMCPs(m.Requires, true); err != nil {
			return fmt.Errorf("catalog: marketplace agent %q: %w", m.ID, err)
		}
		if m.OptionalMCPs, err = c.resolveMCPs(m.Optional, false); err != nil {
			return fmt.Errorf("catalog: marketplace agent %q: %w", m.ID, err)
		}
		c.marketplace[m.ID] = i
	}

	for i := range c.doc.Templates {
		t := &c.doc.Templates[i]
		if _, ok := c.domains[t.DomainID]; !ok {
			return fmt.Errorf("catalog: template %q references unknown domain %q", t.ID, t.DomainID)
		}
		if _, dup := c.templates[t.ID]; dup {
			return fmt.Errorf("catalog: duplicate template %q", t.ID)
		}
		t.AgentCount = 0
		for _, s := range t.Subdomains {
			t.AgentCount += len(s.Agents)
		}
		c.templates[t.ID] = i
	}
	return nil
}

func (c *Catalog) resolveMCPs(ids []string, required bool) ([]domain.MCP, error) {
	out := make([]domain.MCP, 0, len(ids))
	for _, id := range ids {
		m, ok := c.doc.MCPs[id]
		if !ok {
			return nil, fmt.Errorf("unknown MCP %q", id)
		}
		m.ID = id
		m.IsRequired = required
		out = append(out, m)
	}
	return out, nil
}

// Domains returns every life domain in display order.
func (c *Catalog) Domains() []domain.LifeDomain {
	return append([]domain.LifeDomain(nil), c.doc.Domains...)
}

// Domain returns one life domain.
func (c *Catalog) Domain(id string) (domain.LifeDomain, error) {
	i, ok := c.domains[id]
	if !ok {
		return domain.LifeDomain{}, fmt.Errorf("domain %q: %w", id, ErrNotFound)
	}
	return c.doc.Domains[i], nil
}

// Subdomains returns the subdomains of a domain. A known domain without
// subdomains yields an empty list.
func (c *Catalog) Subdomains(domainID string) ([]domain.Subdomain, error) {
	if _, err := c.Domain(domainID); err != nil {
		return nil, err
	}
	out := []domain.Subdomain{}
	for _, s := range c.doc.Subdomains {
		if s.DomainID == domainID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Subdomain returns one subdomain of a domain.
func (c *Catalog) Subdomain(domainID, id string) (domain.Subdomain, error) {
	subs, err := c.Subdomains(domainID)
	if err != nil {
		return domain.Subdomain{}, err
	}
	for _, s := range subs {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Subdomain{}, fmt.Errorf("subdomain %q of %q: %w", id, domainID, ErrNotFound)
}

// Agent returns an installed agent of a subdomain.
func (c *Catalog) Agent(domainID, subdomainID, agentID string) (domain.Agent, error) {
	s, err := c.Subdomain(domainID, subdomainID)
	if err != nil {
		return domain.Agent{}, err
	}
	for _, a := range s.Agents {
		if a.ID == agentID {
			return a, nil
		}
	}
	return domain.Agent{}, fmt.Errorf("agent %q in %s/%s: %w", agentID, domainID, subdomainID, ErrNotFound)
}

// VariableValues returns the current mock values of the given card
// variables, keyed by variable id. Unknown ids are skipped.
func (c *Catalog) VariableValues(configs []domain.VariableConfig) map[string]string {
	out := make(map[string]string, len(configs))
	for _, vc := range configs {
		if v, ok := c.doc.VariableValues[vc.ID]; ok {
			out[vc.ID] = v
		}
	}
	return out
}

// Marketplace lists marketplace agents of a category, matched without
// regard to case. An empty category lists all of them.
func (c *Catalog) Marketplace(category string) []domain.MarketplaceAgent {
	out := []domain.MarketplaceAgent{}
	for _, m := range c.doc.Marketplace {
		if category == "" || strings.EqualFold(m.Category, category) {
			out = append(out, m.MarketplaceAgent)
		}
	}
	return out
}

// MarketplaceAgent returns one marketplace listing.
func (c *Catalog) MarketplaceAgent(id string) (domain.MarketplaceAgent, error) {
	i, ok := c.marketplace[id]
	if !ok {
		return domain.MarketplaceAgent{}, fmt.Errorf("marketplace agent %q: %w", id, ErrNotFound)
	}
	return c.doc.Marketplace[i].MarketplaceAgent, nil
}

// Categories returns the distinct marketplace categories, sorted.
func (c *Catalog) Categories() []string {
	set := make(map[string]bool)
	for _, m := range c.doc.Marketplace {
		set[m.Category] = true
	}
	out := make([]string, 0, len(set))
	for cat := range set {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// SearchSuggestions returns example marketplace queries.
func (c *Catalog) SearchSuggestions() []string {
	return append([]string(nil), c.doc.SearchSuggestions...)
}

// Templates lists templates for a domain, or all templates when domainID
// is empty.
func (c *Catalog) Templates(domainID string) []domain.Template {
	out := []domain.Template{}
	for _, t := range c.doc.Templates {
		if domainID == "" || t.DomainID == domainID {
			out = append(out, t)
		}
	}
	return out
}

// Template returns one template.
func (c *Catalog) Template(id string) (domain.Template, error) {
	i, ok := c.templates[id]
	if !ok {
		return domain.Template{}, fmt.Errorf("template %q: %w", id, ErrNotFound)
	}
	return c.doc.Templates[i], nil
}

// AgentOutput returns the latest output of an agent, by agent id.
func (c *Catalog) AgentOutput(id string) (domain.AgentOutput, error) {
	o, ok := c.doc.AgentOutputs[id]
	if !ok {
		return domain.AgentOutput{}, fmt.Errorf("agent output %q: %w", id, ErrNotFound)
	}
	return o, nil
}

// AgentLogs returns log lines of the named agents (e.g.
// "@financial/bank-sync"), or all lines when no names are given.
func (c *Catalog) AgentLogs(agents ...string) []AgentLog {
	out := []AgentLog{}
	for _, l := range c.doc.AgentLogs {
		if matchesAgent(l.Agent, agents) {
			out = append(out, l)
		}
	}
	return out
}

// AgentTasks returns tasks of the named agents, or all tasks when no
// names are given.
func (c *Catalog) AgentTasks(agents ...string) []AgentTask {
	out := []AgentTask{}
	for _, t := range c.doc.AgentTasks {
		if matchesAgent(t.Agent, agents) {
			out = append(out, t)
		}
	}
	return out
}

func matchesAgent(name string, agents []string) bool {
	if len(agents) == 0 {
		return true
	}
	for _, a := range agents {
		if a == name {
			return true
		}
	}
	return false
}

// Dashboard returns the mock home screen data.
func (c *Catalog) Dashboard() Dashboard {
	return c.doc.Dashboard
}
