package domain

import "time"

// Context is the user's current state, stored under the context collection.
type Context struct {
	UserID      string           `json:"userId"`
	Health      *HealthContext   `json:"health,omitempty"`
	Finance     *FinanceContext  `json:"finance,omitempty"`
	Calendar    *CalendarContext `json:"calendar,omitempty"`
	LastUpdated Timestamp        `json:"lastUpdated"`
}

type HealthContext struct {
	Bloodwork    map[string]any `json:"bloodwork,omitempty"`
	Medications  []Medication   `json:"medications,omitempty"`
	Appointments []Appointment  `json:"appointments,omitempty"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency"`
}

type Appointment struct {
	Date     time.Time `json:"date"`
	Type     string    `json:"type"`
	Provider string    `json:"provider"`
}

type FinanceContext struct {
	Accounts     []Account          `json:"accounts,omitempty"`
	Transactions []Transaction      `json:"transactions,omitempty"`
	Budget       map[string]float64 `json:"budget,omitempty"`
}

type Account struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

type Transaction struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
}

type CalendarContext struct {
	Today []CalendarEvent `json:"today,omitempty"`
	Week  []CalendarDay   `json:"week,omitempty"`
}

type CalendarEvent struct {
	Time     string `json:"time"`
	Event    string `json:"event"`
	Location string `json:"location,omitempty"`
}

type CalendarDay struct {
	Date   time.Time `json:"date"`
	Events []string  `json:"events"`
}
