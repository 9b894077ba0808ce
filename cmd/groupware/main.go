// Command groupware はマルチテナント・グループウェアの認証サーバーを起動する。
//
//	groupware [serve] [--port N]
//	groupware worker [--interval D] [--once]
//	groupware migrate [--down N] [--version]
//	groupware healthcheck [--port N]
//	groupware hash-password [--cost N] < password
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/groupware/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "groupware: %v\n", err)
		os.Exit(1)
	}
}
