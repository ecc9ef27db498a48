package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はクライアント面のHTTPサーバーを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandFeedcheck はニュースソースの疎通検査を実行することを示す。
	CommandFeedcheck Command = "feedcheck"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "feedcheck":
		return CommandFeedcheck
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// FeedcheckOptions はfeedcheckサブコマンドの引数。
type FeedcheckOptions struct {
	// History は検査を行わず、記録済みの最新結果を表示する。
	History bool
	// Sources は検査対象（"name=url" またはURL）。空の場合は既定のソース一覧を使う。
	Sources []string
}

// ParseFeedcheckArgs はfeedcheckに続く引数を解析する。
func ParseFeedcheckArgs(args []string) FeedcheckOptions {
	var opts FeedcheckOptions
	for _, a := range args {
		switch a {
		case "--history", "-history":
			opts.History = true
		default:
			opts.Sources = append(opts.Sources, a)
		}
	}
	return opts
}
