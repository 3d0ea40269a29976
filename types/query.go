package types

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func validateStruct(s any) map[string]string {
	if err := validate.Struct(s); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type SubmitTextParams struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Content     string `json:"content" validate:"required"`
}

func (params *SubmitTextParams) Validate() map[string]string {
	return validateStruct(params)
}

type SubmitFileParams struct {
	Title       string       `validate:"required,max=255"`
	Description string       `validate:"max=2000"`
	Type        DocumentType `validate:"required,oneof=pdf docx txt"`
	FileName    string
	MimeType    string
	Data        []byte `validate:"required"`
}

func (params *SubmitFileParams) Validate() map[string]string {
	return validateStruct(params)
}

type UpdateDocumentParams struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Content     *string `json:"content" validate:"omitempty,min=1"`
}

func (params *UpdateDocumentParams) Validate() map[string]string {
	errs := validateStruct(params)
	if params.Title == nil && params.Description == nil && params.Content == nil {
		if errs == nil {
			errs = make(map[string]string)
		}
		errs["request"] = "nothing to update"
	}
	return errs
}

type SearchParams struct {
	Query         string   `json:"query" validate:"required"`
	MaxResults    int      `json:"max_results" validate:"omitempty,min=1,max=50"`
	MinSimilarity *float64 `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
}

func (params *SearchParams) Validate() map[string]string {
	return validateStruct(params)
}

type AnswerParams struct {
	Message       string   `json:"message" validate:"required"`
	MaxChunks     int      `json:"max_chunks" validate:"omitempty,min=1,max=20"`
	MinSimilarity *float64 `json:"min_similarity" validate:"omitempty,gte=-1,lte=1"`
}

func (params *AnswerParams) Validate() map[string]string {
	return validateStruct(params)
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

type SubmitResponse struct {
	ID     uuid.UUID      `json:"id"`
	Status DocumentStatus `json:"status"`
}

type DocumentResponse struct {
	Document
	Chunks []Chunk `json:"chunks,omitempty"`
}

type SearchResponse struct {
	Results   []ScoredChunk `json:"results"`
	Timestamp time.Time     `json:"timestamp"`
}

// Signals are the structured hints extracted from a generated reply.
type Signals struct {
	Confidence    float64  `json:"confidence"`
	InterestLevel string   `json:"interest_level"`
	Objection     string   `json:"objection,omitempty"`
	NextAction    string   `json:"next_action"`
	Sentiment     string   `json:"sentiment"`
	Intent        string   `json:"intent"`
	Keywords      []string `json:"keywords"`
}

type AnswerResponse struct {
	Reply     string    `json:"reply"`
	Grounded  bool      `json:"grounded"`
	Signals   Signals   `json:"signals"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

type Source struct {
	DocID      string  `json:"doc_id"`
	Title      string  `json:"title"`
	ChunkText  string  `json:"chunk_text"`
	Index      int     `json:"index"`
	Similarity float64 `json:"similarity"`
}
