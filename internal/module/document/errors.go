package document

import "errors"

var (
	ErrDocumentNotFound       = errors.New("document not found")
	ErrObjectNotFound         = errors.New("stored object not found")
	ErrDocumentTooLarge       = errors.New("document exceeds the plan size limit")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrSummaryInProgress      = errors.New("summarization already in progress")
)
