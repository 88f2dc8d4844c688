// Command forensiclab は画像フォレンジック解析の記録APIサーバーとワーカーを起動する。
//
//	forensiclab [serve]              APIサーバー
//	forensiclab worker               保持期間クリーンアップと画像サイズ補完
//	forensiclab migrate [up|down N|version]
//	forensiclab healthcheck          /health を確認する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/forensiclab/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
