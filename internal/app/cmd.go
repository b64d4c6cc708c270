package app

import "strconv"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションのクリーンアップワーカーで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCheckRoutes はルートテーブルを検証して終了することを示す。
	CommandCheckRoutes Command = "check-routes"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "check-routes":
		return CommandCheckRoutes
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction struct {
	Name  string // up, down, version
	Steps int    // downの場合の巻き戻しステップ数
}

// ParseMigrateAction はmigrate以降の引数を解析する。
// 省略時はup、downのステップ数省略時は1とする。
func ParseMigrateAction(args []string) MigrateAction {
	if len(args) == 0 {
		return MigrateAction{Name: "up"}
	}

	switch args[0] {
	case "down":
		steps := 1
		if len(args) > 1 {
			if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
				steps = n
			}
		}
		return MigrateAction{Name: "down", Steps: steps}
	case "version":
		return MigrateAction{Name: "version"}
	default:
		return MigrateAction{Name: "up"}
	}
}
