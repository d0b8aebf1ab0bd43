package domain

import "time"

// Profile is the user's history, stored under the profile collection.
type Profile struct {
	UserID        string         `json:"userId"`
	Conversations []Conversation `json:"conversations"`
	Decisions     []Decision     `json:"decisions"`
	LifeEvents    []LifeEvent    `json:"life_events"`
	Created       Timestamp      `json:"created"`
}

type Conversation struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

type Decision struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Question  string    `json:"question"`
	Decision  string    `json:"decision"`
	Reasoning string    `json:"reasoning"`
	Outcome   string    `json:"outcome,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}

type LifeEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Impact      string    `json:"impact,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}
