package document

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
)

const docxBodyPart = "word/document.xml"

// DocxLoader は Word (.docx) の本文を読み込む Loader 実装
// 明示的な改ページ（w:br w:type="page"）でページを区切る
type DocxLoader struct{}

// NewDocxLoader は新しい DocxLoader を作成する
func NewDocxLoader() *DocxLoader {
	return &DocxLoader{}
}

// SupportedExtensions は対応する拡張子を返す
func (l *DocxLoader) SupportedExtensions() []string {
	return []string{".docx"}
}

// Load は .docx からページごとの Segment を返す
func (l *DocxLoader) Load(ctx context.Context, path string) ([]Segment, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(l.SupportedExtensions(), ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a docx archive: %v", ErrUnsupportedInput, filepath.Base(path), err)
	}
	defer archive.Close()

	body, err := readZipPart(&archive.Reader, docxBodyPart)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedInput, filepath.Base(path), err)
	}

	var doc docxDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: failed to parse %s: %v", ErrUnsupportedInput, filepath.Base(path), docxBodyPart, err)
	}
	return pageSegments(doc.pages(), filepath.Base(path))
}

func readZipPart(r *zip.Reader, name string) ([]byte, error) {
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found", name)
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text   []string    `xml:"t"`
	Breaks []docxBreak `xml:"br"`
}

type docxBreak struct {
	Type string `xml:"type,attr"`
}

// pages は段落を改行で連結し、改ページごとに分割したテキストを返す
func (d docxDocument) pages() []string {
	var pages []string
	var sb strings.Builder
	for _, para := range d.Body.Paragraphs {
		for _, run := range para.Runs {
			for _, t := range run.Text {
				sb.WriteString(t)
			}
			for _, br := range run.Breaks {
				if br.Type == "page" {
					pages = append(pages, sb.String())
					sb.Reset()
				}
			}
		}
		sb.WriteString("\n")
	}
	return append(pages, sb.String())
}

var _ ExtensionLoader = (*DocxLoader)(nil)
