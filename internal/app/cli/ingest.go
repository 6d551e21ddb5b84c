package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"
)

// IngestAction はドキュメントをインデックスに登録するコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("ファイルを1つ以上指定してください")
	}

	slog.Info("インジェストを開始", "files", len(paths))

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	total := 0
	for _, path := range paths {
		result, err := appCtx.Container.Ingestion.IngestFile(ctx, path)
		if err != nil {
			slog.Error("インジェストに失敗しました", "path", path, "error", err)
			return fmt.Errorf("%s のインジェストに失敗: %w", path, err)
		}
		total += result.TotalChunks
		fmt.Fprintf(writer(cmd), "%s: %d chunks\n", result.Document, result.TotalChunks)
	}

	slog.Info("インジェストが完了しました", "files", len(paths), "totalChunks", total)
	return nil
}
