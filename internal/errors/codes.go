// Package errors provides structured error handling for the pipeline.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Store errors (document store, object store)
//   - 3XX: Source API / network errors
//   - 4XX: Validation and parse errors
//   - 5XX: Internal errors (embedding, vector store, queue)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates document-store and object-store errors.
	CategoryStore Category = "STORE"
	// CategoryNetwork indicates source-API and network errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation and parse errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Store errors (200-299)
	ErrCodeStoreOpen      = "ERR_201_STORE_OPEN"
	ErrCodeStoreQuery     = "ERR_202_STORE_QUERY"
	ErrCodeStoreWrite     = "ERR_203_STORE_WRITE"
	ErrCodeObjectStore    = "ERR_204_OBJECT_STORE"
	ErrCodeStoreNotFound  = "ERR_205_NOT_FOUND"
	ErrCodeStoreCorrupt   = "ERR_206_STORE_CORRUPT"

	// Source API / network errors (300-399)
	ErrCodeHTTPTimeout     = "ERR_301_HTTP_TIMEOUT"
	ErrCodeHTTPUnavailable = "ERR_302_HTTP_UNAVAILABLE"
	ErrCodeHTTPStatus      = "ERR_303_HTTP_STATUS"
	ErrCodeSourceStatus    = "ERR_304_SOURCE_STATUS"
	ErrCodeBloqueNotFound  = "ERR_305_BLOQUE_NOT_FOUND"

	// Validation and parse errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidDate  = "ERR_402_INVALID_DATE"
	ErrCodeParseXML     = "ERR_403_PARSE_XML"
	ErrCodeParseJSON    = "ERR_404_PARSE_JSON"
	ErrCodeTemplate     = "ERR_405_TEMPLATE"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeVectorStore     = "ERR_503_VECTOR_STORE"
	ErrCodeQueue           = "ERR_504_QUEUE"
	ErrCodeChunkingFailed  = "ERR_505_CHUNKING_FAILED"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives the default severity for a code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeConfigNotFound, ErrCodeConfigInvalid, ErrCodeStoreOpen, ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeBloqueNotFound:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code may
// be retried. Transient remote failures only; validation and store
// errors are never retried with the same payload.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeHTTPTimeout, ErrCodeHTTPUnavailable, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
