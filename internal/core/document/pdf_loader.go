package document

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

const pdfToTextCommand = "pdftotext"

// ErrPDFToolNotFound は pdftotext が PATH に見つからない場合のエラー
var ErrPDFToolNotFound = fmt.Errorf("%w: pdftotext not found in PATH (install poppler-utils)", ErrUnsupportedFileType)

// CommandRunner は外部コマンドを実行して標準出力を返すインターフェース
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// PDFLoader は pdftotext でテキストを抽出する Loader 実装
// pdftotext はページ末尾にフォームフィードを出力するため、それをページ区切りとして扱う
type PDFLoader struct {
	runner CommandRunner
}

// NewPDFLoader は PATH 上の pdftotext を使う PDFLoader を作成する
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{runner: execRunner{}}
}

// NewPDFLoaderWithRunner は任意の CommandRunner を使う PDFLoader を作成する
func NewPDFLoaderWithRunner(runner CommandRunner) *PDFLoader {
	return &PDFLoader{runner: runner}
}

// SupportedExtensions は対応する拡張子を返す
func (l *PDFLoader) SupportedExtensions() []string {
	return []string{".pdf"}
}

// Load は PDF からページごとの Segment を返す
func (l *PDFLoader) Load(ctx context.Context, path string) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(l.SupportedExtensions(), ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := l.runner.Run(ctx, pdfToTextCommand, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("pdftotext failed for %s: %w", path, err)
	}

	pages := strings.Split(string(out), pageBreak)
	// 最終ページの後ろにも区切りが付くため末尾の空要素を落とす
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pageSegments(pages, filepath.Base(path))
}

var _ ExtensionLoader = (*PDFLoader)(nil)
