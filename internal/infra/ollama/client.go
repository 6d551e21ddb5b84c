// Package ollama はローカルの Ollama サーバーを使った言語モデル・Embedding アダプタを提供する
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL は Ollama API のデフォルトURL
	DefaultBaseURL = "http://localhost:11434"

	// DefaultTimeout は同期呼び出しのデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second
)

// client は Ollama API への JSON POST を行う
type client struct {
	http    *http.Client
	baseURL string
}

func newClient(httpClient *http.Client, baseURL string) *client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

// post はリクエストを送信し、200 以外はエラーとして本文を含めて返す
// 呼び出し側は戻り値の Body を閉じる必要がある
func (c *client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("ollama error (status %d): failed to read response", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}
