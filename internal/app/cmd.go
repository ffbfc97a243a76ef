package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
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
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// マイグレーションの方向。
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// MigrateDirection はmigrateサブコマンドの方向引数を解析する。
// "migrate down" の場合のみMigrateDownを返し、それ以外はMigrateUpを返す。
func MigrateDirection(args []string) string {
	if len(args) >= 2 && args[0] == string(CommandMigrate) && args[1] == MigrateDown {
		return MigrateDown
	}
	return MigrateUp
}
