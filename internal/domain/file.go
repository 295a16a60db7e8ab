package domain

// FileCategory is a coarse classification used to decide how a file's
// content is treated during inventory.
type FileCategory string

const (
	CategoryText         FileCategory = "text"
	CategoryCode         FileCategory = "code"
	CategoryDocument     FileCategory = "document"
	CategorySpreadsheet  FileCategory = "spreadsheet"
	CategoryPresentation FileCategory = "presentation"
	CategoryPDF          FileCategory = "pdf"
	CategoryImage        FileCategory = "image"
	CategoryAudio        FileCategory = "audio"
	CategoryVideo        FileCategory = "video"
	CategoryArchive      FileCategory = "archive"
	CategoryData         FileCategory = "data"
	CategoryBinary       FileCategory = "binary"
	CategoryUnknown      FileCategory = "unknown"
)

// TextLike reports whether content extraction makes sense for the category.
func (c FileCategory) TextLike() bool {
	switch c {
	case CategoryText, CategoryCode, CategoryData:
		return true
	default:
		return false
	}
}

// FileMetadata describes one inventoried file. Fields past Category are
// filled only when the corresponding processing step ran.
type FileMetadata struct {
	Name         string       `json:"name"`
	Path         string       `json:"path"`
	Size         int64        `json:"size"`
	MIMEType     string       `json:"mime_type"`
	Category     FileCategory `json:"category"`
	Encoding     string       `json:"encoding,omitempty"`
	Hash         string       `json:"hash,omitempty"`
	Lines        int          `json:"lines,omitempty"`
	Words        int          `json:"words,omitempty"`
	Chars        int          `json:"chars,omitempty"`
	Content      string       `json:"content,omitempty"`
	Truncated    bool         `json:"truncated,omitempty"`
	Structured   any          `json:"structured,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Entities     []string     `json:"entities,omitempty"`
	ProcessingMS int64        `json:"processing_ms"`
	Error        string       `json:"error,omitempty"`
}
