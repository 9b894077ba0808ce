package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れデータのクリーンアップワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHashPassword は標準入力のパスワードからbcryptハッシュを出力する。
	// 初期ユーザーの投入に使う。
	CommandHashPassword Command = "hash-password"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空、またはサポート外のコマンドの場合はCommandServeを返す。
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
	case "hash-password":
		return CommandHashPassword
	default:
		return CommandServe
	}
}

// Options はサブコマンドごとのフラグ値。
type Options struct {
	Port            string        // serve, healthcheck: 環境変数SERVER_PORTより優先
	CleanupInterval time.Duration // worker
	Once            bool          // worker: 1回だけ実行して終了する
	RollbackSteps   int           // migrate: 0より大きい場合は指定数だけ戻す
	ShowVersion     bool          // migrate: 適用済みバージョンを表示して終了する
	Cost            int           // hash-password: 0の場合はBCRYPT_COST
}

// ParseOptions はサブコマンド名を除いた引数からフラグを解析する。
func ParseOptions(cmd Command, args []string) (*Options, error) {
	opts := &Options{}
	flagSet := pflag.NewFlagSet(string(cmd), pflag.ContinueOnError)

	switch cmd {
	case CommandServe, CommandHealthcheck:
		flagSet.StringVarP(&opts.Port, "port", "p", "", "listen port (overrides SERVER_PORT)")
	case CommandWorker:
		flagSet.DurationVar(&opts.CleanupInterval, "interval", time.Hour, "interval between cleanup runs")
		flagSet.BoolVar(&opts.Once, "once", false, "run cleanup once and exit")
	case CommandMigrate:
		flagSet.IntVar(&opts.RollbackSteps, "down", 0, "roll back the given number of migrations")
		flagSet.BoolVar(&opts.ShowVersion, "version", false, "print the applied migration version")
	case CommandHashPassword:
		flagSet.IntVar(&opts.Cost, "cost", 0, "bcrypt cost (defaults to BCRYPT_COST)")
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid flags for %s: %w", cmd, err)
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument for %s: %s", cmd, rest[0])
	}
	if cmd == CommandWorker && opts.CleanupInterval <= 0 {
		return nil, fmt.Errorf("--interval must be positive: %s", opts.CleanupInterval)
	}
	return opts, nil
}

// commandArgs はサブコマンド名を取り除いたフラグ部分を返す。
// 先頭がフラグの場合はサブコマンド省略とみなしてそのまま返す。
func commandArgs(args []string) []string {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return args
	}
	return args[1:]
}
