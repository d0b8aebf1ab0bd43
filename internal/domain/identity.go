package domain

// Identity holds user preferences and boundaries. Stored under the
// identity collection.
type Identity struct {
	UserID     string     `json:"userId"`
	Persona    Persona    `json:"persona"`
	Boundaries Boundaries `json:"boundaries"`
	Priorities Priorities `json:"priorities"`
}

// Persona configures how the assistant talks.
type Persona struct {
	Tone       PersonaTone  `json:"tone"`
	EmojiUsage PersonaEmoji `json:"emoji_usage"`
	Language   Language     `json:"language"`
	RedLines   []string     `json:"red_lines"`
}

type PersonaTone struct {
	General  Tone   `json:"general"`
	Health   string `json:"health"`
	Finance  string `json:"finance"`
	Personal string `json:"personal"`
}

type PersonaEmoji struct {
	Health  EmojiUsage `json:"health"`
	Finance EmojiUsage `json:"finance"`
	Casual  EmojiUsage `json:"casual"`
}

// Boundaries limit what the assistant may do on the user's behalf.
// Monetary amounts are in BRL.
type Boundaries struct {
	Financial FinancialBoundaries `json:"financial"`
	Health    HealthBoundaries    `json:"health"`
	Privacy   PrivacyBoundaries   `json:"privacy"`
	Autonomy  AutonomyBoundaries  `json:"autonomy"`
}

type FinancialBoundaries struct {
	AutomaticApprovalMax        float64    `json:"automatic_approval_max"`
	RequiresConfirmationRange   [2]float64 `json:"requires_confirmation_range"`
	RequiresExplicitApprovalMin float64    `json:"requires_explicit_approval_min"`
	NeverWithoutApproval        []string   `json:"never_without_approval"`
}

type HealthBoundaries struct {
	NeverDiagnose     bool `json:"never_diagnose"`
	NeverPrescribe    bool `json:"never_prescribe"`
	AlwaysCiteSources bool `json:"always_cite_sources"`
}

type PrivacyBoundaries struct {
	EncryptionRequired []string `json:"encryption_required"`
	NeverShare         []string `json:"never_share"`
}

type AutonomyBoundaries struct {
	MaxAutoActionsPerDay int  `json:"max_auto_actions_per_day"`
	ReversibilityCheck   bool `json:"reversibility_check"`
}

// Priority is a single entry of the priority matrix.
type Priority struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Conditions  []string `json:"conditions"`
	Actions     []string `json:"actions"`
}

// ConflictRule resolves competing priorities.
type ConflictRule struct {
	When   string `json:"when"`
	Prefer string `json:"prefer"`
	Reason string `json:"reason"`
}

// Priorities ranks P0 (emergencies) through P4 (convenience).
type Priorities struct {
	Matrix             PriorityMatrix `json:"matrix"`
	ConflictResolution []ConflictRule `json:"conflict_resolution"`
}

type PriorityMatrix struct {
	P0 []Priority `json:"P0"`
	P1 []Priority `json:"P1"`
	P2 []Priority `json:"P2"`
	P3 []Priority `json:"P3"`
	P4 []Priority `json:"P4"`
}

// Level returns the priority bucket by name ("P0".."P4").
func (m PriorityMatrix) Level(name string) ([]Priority, bool) {
	switch name {
	case "P0":
		return m.P0, true
	case "P1":
		return m.P1, true
	case "P2":
		return m.P2, true
	case "P3":
		return m.P3, true
	case "P4":
		return m.P4, true
	}
	return nil, false
}
