package document

import (
	"time"

	"github.com/google/uuid"
)

// DocumentResponse is the API shape of a document.
type DocumentResponse struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	FileName     string     `json:"file_name"`
	ContentType  string     `json:"content_type"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       Status     `json:"status"`
	Summary      string     `json:"summary,omitempty"`
	SummarizedAt *time.Time `json:"summarized_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ToDocumentResponse converts a document to its API shape.
func ToDocumentResponse(d *Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		Title:        d.Title,
		FileName:     d.FileName,
		ContentType:  d.ContentType,
		SizeBytes:    d.SizeBytes,
		Status:       d.Status,
		Summary:      d.Summary,
		SummarizedAt: d.SummarizedAt,
		CreatedAt:    d.CreatedAt,
	}
}

// ToDocumentListResponse converts a document list to its API shape.
func ToDocumentListResponse(docs []*Document) []DocumentResponse {
	out := make([]DocumentResponse, len(docs))
	for i, d := range docs {
		out[i] = ToDocumentResponse(d)
	}
	return out
}
