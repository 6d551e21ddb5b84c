package cli

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/app/server"
)

// ServeAction は HTTP サーバーを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := appCtx.Config.Server.Addr
	if a := cmd.String("addr"); a != "" {
		addr = a
	}

	slog.Info("HTTPサーバーを起動します",
		"app", appCtx.Config.AppName,
		"addr", addr,
		"indexReady", appCtx.Container.Index.Ready(),
	)

	if err := server.New(appCtx.Container).Run(ctx, addr); err != nil {
		slog.Error("HTTPサーバーが異常終了しました", "error", err)
		return err
	}

	slog.Info("HTTPサーバーを停止しました")
	return nil
}
