// Package sourcecheck はニュースソース（RSS/Atomフィード）の疎通検査を提供する。
// 各ソースを取得・解析し、ONLINE/EMPTY/WARNING/FAIL/ERROR のいずれかに分類する。
package sourcecheck

import (
	"strings"

	"github.com/hitoshi/aidaily/internal/model"
)

// DefaultSources はバックエンドの取り込み対象ソースの一覧。
var DefaultSources = []model.Source{
	// 研究（arXiv）
	{Name: "arXiv cs.AI", URL: "http://export.arxiv.org/rss/cs.AI"},
	{Name: "arXiv cs.CL", URL: "http://export.arxiv.org/rss/cs.CL"},
	{Name: "arXiv cs.LG", URL: "http://export.arxiv.org/rss/cs.LG"},
	{Name: "arXiv cs.CV", URL: "http://export.arxiv.org/rss/cs.CV"},

	// 研究所・企業
	{Name: "OpenAI Blog", URL: "https://openai.com/blog/rss.xml"},
	{Name: "Google DeepMind", URL: "https://deepmind.com/blog/feed/basic/"},
	{Name: "Anthropic", URL: "https://raw.githubusercontent.com/Olshansk/rss-feeds/main/feeds/feed_anthropic_news.xml"},
	{Name: "Microsoft Research", URL: "https://www.microsoft.com/en-us/research/feed/"},

	// エンジニアリング
	{Name: "Hugging Face Blog", URL: "https://huggingface.co/blog/feed.xml"},
	{Name: "LangChain Blog", URL: "https://blog.langchain.dev/rss/"},
	{Name: "Weights & Biases", URL: "https://wandb.ai/fully-connected/rss.xml"},
	{Name: "AWS Machine Learning", URL: "https://aws.amazon.com/blogs/machine-learning/feed/"},

	// 個人
	{Name: "Lil'Log (Lilian Weng)", URL: "https://lilianweng.github.io/lil-log/feed.xml"},
	{Name: "Andrej Karpathy", URL: "https://karpathy.ai/feed.xml"},
	{Name: "Simon Willison", URL: "https://simonwillison.net/atom/entries/"},
}

// SourcesFromArgs はコマンドライン引数からソース一覧を生成する。
// "name=url" 形式の場合は名前を、それ以外はURLをそのまま名前として使う。
func SourcesFromArgs(args []string) []model.Source {
	sources := make([]model.Source, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		name, u, ok := strings.Cut(arg, "=")
		if !ok || strings.Contains(name, "://") {
			sources = append(sources, model.Source{Name: arg, URL: arg})
			continue
		}
		sources = append(sources, model.Source{Name: name, URL: u})
	}
	return sources
}
