package types

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentText DocumentType = "text"
	DocumentPDF  DocumentType = "pdf"
	DocumentDOCX DocumentType = "docx"
	DocumentTXT  DocumentType = "txt"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentText, DocumentPDF, DocumentDOCX, DocumentTXT:
		return true
	}
	return false
}

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is one knowledge source of a tenant. ChunkCount and TokenCount
// are only meaningful while Status is StatusIndexed.
type Document struct {
	ID          uuid.UUID      `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Type        DocumentType   `json:"type"`
	FileName    string         `json:"file_name,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	SourcePath  string         `json:"-"`
	Content     string         `json:"content,omitempty"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	TokenCount  int            `json:"token_count"`
	Deleted     bool           `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	IndexedAt   *time.Time     `json:"indexed_at,omitempty"`
}

// Chunk is an offset-tracked slice of a document's extracted text with its
// embedding. StartChar and EndChar count runes, not bytes.
type Chunk struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	TenantID   string    `json:"tenant_id"`
	Content    string    `json:"content"`
	Index      int       `json:"index"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	TokenCount int       `json:"token_count"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ScoredChunk struct {
	Chunk         Chunk   `json:"chunk"`
	DocumentTitle string  `json:"document_title"`
	Similarity    float64 `json:"similarity"`
}

// IndexResult carries what a completed indexing run writes back to its document.
type IndexResult struct {
	Content    string
	Chunks     []Chunk
	TokenCount int
	IndexedAt  time.Time
}
