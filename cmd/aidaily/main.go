// Command aidaily はAI Dailyのクライアント面サーバーと運用コマンドを提供する。
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/aidaily/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("aidaily exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
