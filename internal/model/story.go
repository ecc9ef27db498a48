package model

import "time"

// Persona はストーリーフィードを絞り込むオーディエンス区分を表す。
type Persona string

const (
	PersonaBuilders       Persona = "builders"
	PersonaExecutors      Persona = "executors"
	PersonaExplorers      Persona = "explorers"
	PersonaThoughtLeaders Persona = "thought_leaders"
)

// Valid はPersonaが定義済みの値かどうかを返す。
func (p Persona) Valid() bool {
	switch p {
	case PersonaBuilders, PersonaExecutors, PersonaExplorers, PersonaThoughtLeaders:
		return true
	default:
		return false
	}
}

// Timeframe はストーリー取得の対象期間を表す。
type Timeframe string

const (
	TimeframeToday Timeframe = "today"
	Timeframe7d    Timeframe = "7d"
	Timeframe30d   Timeframe = "30d"
)

// Item はストーリーを構成する個々の記事を表す。
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// StorySummary はペルソナごとのストーリー要約を表す。
type StorySummary struct {
	ID             string   `json:"id"`
	Persona        Persona  `json:"persona"`
	Category       string   `json:"category,omitempty"`
	SummaryShort   string   `json:"summary_short"`
	SummaryBullets []string `json:"summary_bullets"`
	WhyItMatters   string   `json:"why_it_matters,omitempty"`
	KeyEntities    []string `json:"key_entities,omitempty"`
	Confidence     string   `json:"confidence,omitempty"`
}

// Story はクラスタリングされた記事群とその要約を表す。
type Story struct {
	ID             string         `json:"id"`
	CanonicalTitle string         `json:"canonical_title"`
	Score          float64        `json:"score"`
	Tags           []string       `json:"tags"`
	CreatedAt      time.Time      `json:"created_at"`
	Items          []Item         `json:"items"`
	Summaries      []StorySummary `json:"summaries"`
	IsSaved        bool           `json:"is_saved"`
}
