package model

import "time"

// SourceStatus はニュースソースの疎通検査結果の区分。
type SourceStatus string

const (
	SourceStatusOnline  SourceStatus = "ONLINE"  // 取得・解析に成功し記事が1件以上ある
	SourceStatusEmpty   SourceStatus = "EMPTY"   // 取得・解析に成功したが記事が0件
	SourceStatusWarning SourceStatus = "WARNING" // HTTP 200だが解析に失敗
	SourceStatusFail    SourceStatus = "FAIL"    // HTTP 200以外
	SourceStatusError   SourceStatus = "ERROR"   // 通信エラーやURL不正
)

// Source は検査対象のニュースソース。
type Source struct {
	Name string
	URL  string
}

// SourceCheck は1ソースに対する検査結果。
type SourceCheck struct {
	Source    Source
	FeedURL   string // HTMLページから解決した場合の実際のフィードURL
	Status    SourceStatus
	Entries   int
	Detail    string
	CheckedAt time.Time
}
