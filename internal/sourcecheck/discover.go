package sourcecheck

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FeedLink はHTMLのhead内で宣言されたフィードへのリンク。
type FeedLink struct {
	URL   string
	Atom  bool
	Title string
}

// mediaType はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsHTML はレスポンスがHTMLページかどうかを判定する。
// Content-Typeがない場合はボディ先頭から推定する。
func IsHTML(contentType string, body []byte) bool {
	mt := mediaType(contentType)
	if mt == "text/html" || mt == "application/xhtml+xml" {
		return true
	}
	if mt != "" {
		return false
	}
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<!doctype html") || strings.Contains(head, "<html")
}

// DiscoverFeedLinks はHTMLのheadからrel="alternate"のRSS/Atomリンクを抽出する。
// 相対URLはbaseURLを基準に解決する。bodyに入った時点で走査を終える。
func DiscoverFeedLinks(body []byte, baseURL string) []FeedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []FeedLink
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "body":
				return links
			case "link":
				if !hasAttr {
					continue
				}
				if link, ok := readFeedLink(z, base); ok {
					links = append(links, link)
				}
			}
		}
	}
}

func readFeedLink(z *html.Tokenizer, base *url.URL) (FeedLink, bool) {
	var rel, typ, href, title string
	for more := true; more; {
		var key, val []byte
		key, val, more = z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "rel":
			rel = strings.ToLower(string(val))
		case "type":
			typ = strings.ToLower(string(val))
		case "href":
			href = strings.TrimSpace(string(val))
		case "title":
			title = string(val)
		}
	}

	if href == "" || !containsWord(rel, "alternate") {
		return FeedLink{}, false
	}
	var atom bool
	switch typ {
	case "application/rss+xml":
	case "application/atom+xml":
		atom = true
	default:
		return FeedLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return FeedLink{}, false
	}
	return FeedLink{URL: base.ResolveReference(ref).String(), Atom: atom, Title: title}, true
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}

// BestFeedLink は候補から1件を選ぶ。同一ホストのリンクを優先し、
// 同順位の場合はAtomを、それも同じなら先に現れたものを選ぶ。
func BestFeedLink(links []FeedLink, pageURL string) (FeedLink, bool) {
	if len(links) == 0 {
		return FeedLink{}, false
	}
	host := hostOf(pageURL)

	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == host {
			score += 2
		}
		if l.Atom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
