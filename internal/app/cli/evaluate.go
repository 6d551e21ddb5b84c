package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/evaluation"
)

// EvaluateAction は質問セットで検索品質を評価するコマンドのアクション
func EvaluateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	questionsPath := cmd.String("questions")

	f, err := os.Open(questionsPath)
	if err != nil {
		return fmt.Errorf("質問ファイルを開けません: %w", err)
	}
	defer f.Close()

	questions, err := evaluation.ReadQuestions(f)
	if err != nil {
		return fmt.Errorf("質問ファイルの読み込みに失敗: %w", err)
	}

	slog.Info("検索品質の評価を開始", "questions", len(questions))

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	report, err := appCtx.Container.Evaluator.Evaluate(ctx, questions)
	if err != nil {
		slog.Error("評価に失敗しました", "error", err)
		return err
	}

	enc := json.NewEncoder(writer(cmd))
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("評価結果の出力に失敗: %w", err)
	}

	slog.Info("評価が完了しました", "hitRate", report.HitRate)
	return nil
}
