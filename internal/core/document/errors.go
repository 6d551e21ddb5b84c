package document

import "errors"

var (
	// ErrUnsupportedInput は空であってはならない入力が空だった場合のエラー
	ErrUnsupportedInput = errors.New("unsupported input")

	// ErrUnsupportedFileType はローダーが扱えない拡張子の場合のエラー
	ErrUnsupportedFileType = errors.New("unsupported file type")

	// ErrInvalidChunk は Chunk の不変条件違反を表す
	ErrInvalidChunk = errors.New("invalid chunk")
)
