package cli

import "github.com/urfave/cli/v3"

// NewCommand は doc-rag のコマンドツリーを構築する
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:  "doc-rag",
		Usage: "アップロードされたドキュメントに基づいて質問に答える RAG アシスタント",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "環境変数ファイルパス",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "ドキュメントを分割してインデックスに登録",
				ArgsUsage: "<file>...",
				Action:    IngestAction,
			},
			{
				Name:      "ask",
				Usage:     "ドキュメントに基づいて1回だけ質問に回答（会話履歴は chat / serve で保持）",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "stream",
						Usage: "回答をトークン単位で逐次表示",
					},
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照ソースを表示",
					},
				},
				Action: AskAction,
			},
			{
				Name:  "chat",
				Usage: "1つのセッションで対話的に質問（/clear で会話ログを消去）",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "session",
						Usage: "会話セッションID（省略時は新規）",
					},
				},
				Action: ChatAction,
			},
			{
				Name:  "evaluate",
				Usage: "質問セットで検索品質を評価",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "questions",
						Usage:    "1行1問の質問ファイル",
						Required: true,
					},
				},
				Action: EvaluateAction,
			},
			{
				Name:  "serve",
				Usage: "HTTP API サーバーを起動",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は HTTP_ADDR）",
					},
				},
				Action: ServeAction,
			},
		},
	}
}
