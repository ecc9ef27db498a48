package sourcecheck

import (
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/aidaily/internal/model"
)

// WriteReport は検査結果を表形式で書き出す。
func WriteReport(w io.Writer, results []model.SourceCheck) error {
	if _, err := fmt.Fprintf(w, "%-25s | %-10s | %s\n", "SOURCE NAME", "STATUS", "DETAILS"); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 80)); err != nil {
		return err
	}
	for _, r := range results {
		detail := r.Detail
		if r.FeedURL != "" && r.FeedURL != r.Source.URL {
			detail += " (feed: " + r.FeedURL + ")"
		}
		if _, err := fmt.Fprintf(w, "%-25s | %-10s | %s\n", r.Source.Name, r.Status, detail); err != nil {
			return err
		}
	}
	return nil
}

// Healthy は全ソースがONLINEの場合にtrueを返す。
func Healthy(results []model.SourceCheck) bool {
	for _, r := range results {
		if r.Status != model.SourceStatusOnline {
			return false
		}
	}
	return true
}
