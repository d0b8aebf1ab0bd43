package domain

// AgentStatus is the lifecycle state shown for an installed agent.
type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
	AgentError  AgentStatus = "error"
)

// LifeDomain is a top-level organizational category such as "Financial".
type LifeDomain struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Icon        string `json:"icon" yaml:"icon"`
	Description string `json:"description" yaml:"description"`
	Subdomains  int    `json:"subdomains" yaml:"-"`
	Color       string `json:"color" yaml:"color"`
}

// Agent is an installed agent record. It is display data only.
type Agent struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"` // e.g. "@financial/cashflow-monitor"
	Description string      `json:"description" yaml:"description"`
	Status      AgentStatus `json:"status" yaml:"status"`
	ActiveSince string      `json:"activeSince" yaml:"activeSince"`
	Version     string      `json:"version" yaml:"version"`
	Color       string      `json:"color" yaml:"color"`
	BgColor     string      `json:"bgColor" yaml:"bgColor"`
}

// LayoutPosition is a 0-indexed card grid cell.
type LayoutPosition struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// VariableConfig describes how one agent-provided value renders on a card.
type VariableConfig struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Label          string         `json:"label" yaml:"label"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	Agent          string         `json:"agent" yaml:"agent"`
	FontSize       string         `json:"fontSize" yaml:"fontSize"`
	FontWeight     string         `json:"fontWeight" yaml:"fontWeight"`
	Color          string         `json:"color" yaml:"color"`
	DisplayType    string         `json:"displayType" yaml:"displayType"`
	LayoutPosition LayoutPosition `json:"layoutPosition" yaml:"layoutPosition"`
}

// Subdomain groups agents and card variables inside a domain.
type Subdomain struct {
	ID              string           `json:"id" yaml:"id"`
	DomainID        string           `json:"domainId" yaml:"domainId"`
	Name            string           `json:"name" yaml:"name"`
	Icon            string           `json:"icon" yaml:"icon"`
	Description     string           `json:"description" yaml:"description"`
	AgentCount      int              `json:"agentCount" yaml:"-"`
	Agents          []Agent          `json:"agents" yaml:"agents"`
	VariableConfigs []VariableConfig `json:"variableConfigs" yaml:"variableConfigs"`
}

// MCP is an external connector an agent depends on.
type MCP struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Provider    string `json:"provider" yaml:"provider"`
	IsRequired  bool   `json:"isRequired" yaml:"isRequired"`
	IsConnected bool   `json:"isConnected" yaml:"isConnected"`
}

// MarketplaceAgent is an installable agent listing.
type MarketplaceAgent struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Description     string   `json:"description" yaml:"description"`
	LongDescription string   `json:"longDescription" yaml:"longDescription"`
	Category        string   `json:"category" yaml:"category"`
	Tags            []string `json:"tags" yaml:"tags"`
	Rating          float64  `json:"rating" yaml:"rating"`
	Installs        int      `json:"installs" yaml:"installs"`
	Version         string   `json:"version" yaml:"version"`
	Author          string   `json:"author" yaml:"author"`
	RequiredMCPs    []MCP    `json:"requiredMCPs" yaml:"requiredMCPs"`
	OptionalMCPs    []MCP    `json:"optionalMCPs" yaml:"optionalMCPs"`
	DataCollected   []string `json:"dataCollected" yaml:"dataCollected"`
	UpdateFrequency string   `json:"updateFrequency" yaml:"updateFrequency"`
}

// Template is a prebuilt set of subdomains and agents for a domain.
type Template struct {
	ID           string              `json:"id" yaml:"id"`
	Name         string              `json:"name" yaml:"name"`
	Description  string              `json:"description" yaml:"description"`
	DomainID     string              `json:"domainId" yaml:"domainId"`
	IsPopular    bool                `json:"isPopular" yaml:"isPopular"`
	AgentCount   int                 `json:"agentCount" yaml:"-"`
	Subdomains   []TemplateSubdomain `json:"subdomains" yaml:"subdomains"`
	PreviewCards []PreviewCard       `json:"previewCards" yaml:"previewCards"`
}

type TemplateSubdomain struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Icon        string   `json:"icon" yaml:"icon"`
	Description string   `json:"description" yaml:"description"`
	Agents      []string `json:"agents" yaml:"agents"`
}

type PreviewCard struct {
	Title     string          `json:"title" yaml:"title"`
	Variables []PreviewValue `json:"variables" yaml:"variables"`
}

type PreviewValue struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// AgentOutput is the latest data an agent produced.
type AgentOutput struct {
	AgentName   string         `json:"agentName" yaml:"agentName"`
	LastUpdated string         `json:"lastUpdated" yaml:"lastUpdated"`
	Data        map[string]any `json:"data" yaml:"data"`
}
