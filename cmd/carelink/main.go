// Command carelink は医療ポータルのBFFサーバー、クリーンアップワーカー、マイグレーションを起動する。
//
//	carelink [serve|worker|migrate [down]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/carelink/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "carelink: %v\n", err)
		os.Exit(1)
	}
}
