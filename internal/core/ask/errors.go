package ask

import "errors"

var (
	// ErrProviderUnavailable は言語モデルバックエンドの通信失敗を表す（自動リトライはしない）
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrEmptyQuestion は質問が空の場合のエラー
	ErrEmptyQuestion = errors.New("question is required")

	// ErrStreamConsumed はストリームを2回以上反復しようとした場合のエラー
	ErrStreamConsumed = errors.New("answer stream already consumed")
)
