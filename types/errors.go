package types

import "errors"

var (
	ErrUnsupportedFormat  = errors.New("unsupported document format")
	ErrEmptyContent       = errors.New("document has no extractable text")
	ErrEmbeddingProvider  = errors.New("embedding provider error")
	ErrGenerationProvider = errors.New("generation provider error")
	ErrNotFound           = errors.New("not found")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrDocumentDeleted    = errors.New("document was deleted")
	ErrIndexingInProgress = errors.New("document is being indexed")
	ErrInvalidTransition  = errors.New("invalid document status transition")
	ErrContentNotEditable = errors.New("content can only be edited on text documents")
)
