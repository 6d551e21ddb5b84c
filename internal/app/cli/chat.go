package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// 対話モードのコマンド
const (
	chatClearCommand = "/clear"
	chatExitCommand  = "/exit"
)

// ChatAction は1つのセッションで対話的に質問を続けるコマンドのアクション
func ChatAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	sessionID := cmd.String("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

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

	slog.Info("対話セッションを開始", "sessionID", sessionID, "backend", orch.BackendName())

	out := writer(cmd)
	fmt.Fprintf(out, "%s (%s で会話ログを消去, %s で終了)\n", appCtx.Config.AppName, chatClearCommand, chatExitCommand)

	scanner := bufio.NewScanner(reader(cmd))
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case chatExitCommand:
			return nil
		case chatClearCommand:
			appCtx.Container.Sessions.Clear(sessionID)
			fmt.Fprintln(out, "会話ログを消去しました")
			continue
		}

		if err := streamAnswer(ctx, out, orch, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "エラー: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("入力の読み込みに失敗: %w", err)
	}
	return nil
}
