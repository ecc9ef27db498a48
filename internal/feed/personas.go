// Package feed はストーリーフィードの表示状態（ビュー、ペルソナ、カテゴリ）と
// プロフィール表示を提供する。データはバックエンドAPIから取得する。
package feed

import (
	"slices"

	"github.com/hitoshi/aidaily/internal/model"
)

// PersonaInfo はペルソナの表示名と所属カテゴリ。
type PersonaInfo struct {
	ID         model.Persona `json:"id"`
	Label      string        `json:"label"`
	Categories []string      `json:"categories"`
}

// hierarchy は表示順のペルソナ一覧。
var hierarchy = []PersonaInfo{
	{
		ID:         model.PersonaBuilders,
		Label:      "Builders",
		Categories: []string{"Models", "RAG & Agents", "Papers", "Open Source"},
	},
	{
		ID:         model.PersonaExecutors,
		Label:      "Executors",
		Categories: []string{"Markets", "Enterprise", "Industry", "Policy", "Startups", "Strategy", "Compute"},
	},
	{
		ID:         model.PersonaExplorers,
		Label:      "Explorers",
		Categories: []string{"AGI & Future", "Ethics", "Jobs & Society", "Demos & Creativity"},
	},
	{
		ID:         model.PersonaThoughtLeaders,
		Label:      "Insight",
		Categories: []string{"Deep Dives", "Concepts", "Hot Takes"},
	},
}

// DefaultPersona は初期表示のペルソナ。
const DefaultPersona = model.PersonaBuilders

// Personas はペルソナ一覧のコピーを返す。
func Personas() []PersonaInfo {
	out := make([]PersonaInfo, len(hierarchy))
	for i, p := range hierarchy {
		out[i] = p.clone()
	}
	return out
}

// LookupPersona はペルソナの定義を返す。
func LookupPersona(id model.Persona) (PersonaInfo, bool) {
	for _, p := range hierarchy {
		if p.ID == id {
			return p.clone(), true
		}
	}
	return PersonaInfo{}, false
}

// HasCategory はカテゴリがこのペルソナに属するかどうかを返す。
func (p PersonaInfo) HasCategory(category string) bool {
	return slices.Contains(p.Categories, category)
}

func (p PersonaInfo) clone() PersonaInfo {
	p.Categories = slices.Clone(p.Categories)
	return p
}
