package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/doc-rag/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	// フラグの取得
	stream := cmd.Bool("stream")
	showSources := cmd.Bool("show-sources")
	envFile := cmd.String("env")

	// 質問文の取得
	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("質問文を指定してください")
	}
	// 1回限りの質問なので履歴は引き継がない
	sessionID := uuid.NewString()

	slog.Info("質問応答を開始",
		"sessionID", sessionID,
		"stream", stream,
		"showSources", showSources,
	)

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	orch, err := appCtx.Container.Sessions.GetOrCreate(sessionID)
	if err != nil {
		return err
	}

	out := writer(cmd)
	if stream {
		if err := streamAnswer(ctx, out, orch, question); err != nil {
			slog.Error("質問応答に失敗しました", "error", err)
			return err
		}
		slog.Info("質問応答が完了しました")
		return nil
	}

	result, err := orch.Ask(ctx, question)
	if err != nil {
		slog.Error("質問応答に失敗しました", "error", err)
		return err
	}

	// 結果出力
	printResult(out, result, showSources)

	slog.Info("質問応答が完了しました", "confidence", result.Confidence)
	return nil
}

// streamAnswer はトークンを受け取り次第出力する
func streamAnswer(ctx context.Context, w io.Writer, orch *ask.Orchestrator, question string) error {
	for token, err := range orch.AskStream(ctx, question) {
		if err != nil {
			fmt.Fprintln(w)
			return err
		}
		fmt.Fprint(w, token)
	}
	fmt.Fprintln(w)
	return nil
}

func printResult(w io.Writer, result *ask.AskResult, showSources bool) {
	fmt.Fprintln(w, result.Answer)

	// --show-sourcesフラグが指定されている場合、参照ソースも出力
	if showSources && len(result.Sources) > 0 {
		fmt.Fprintf(w, "\n--- 参照ソース (confidence: %s) ---\n", result.Confidence)
		for i, source := range result.Sources {
			fmt.Fprintf(w, "[%d] page %s: %s\n", i+1, source.Page, source.Snippet)
		}
	}
}
