// Package errors provides structured error handling for clementine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors
//   - 3XX: Embedding / network errors
//   - 4XX: Ingestion content errors
//   - 5XX: Consistency and conflict errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStore indicates passage store errors.
	CategoryStore Category = "STORE"
	// CategoryEmbedding indicates embedding service errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryContent indicates per-source content errors.
	CategoryContent Category = "CONTENT"
	// CategoryConsistency indicates conflict and versioning errors.
	CategoryConsistency Category = "CONSISTENCY"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	CodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	CodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	CodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	CodeStoreCorrupt     = "ERR_202_STORE_CORRUPT"
	CodeStoreFailed      = "ERR_203_STORE_FAILED"

	// Embedding errors (300-399)
	CodeEmbeddingUnavailable = "ERR_301_EMBEDDING_UNAVAILABLE"
	CodeEmbeddingRejected    = "ERR_302_EMBEDDING_REJECTED"
	CodeDimensionMismatch    = "ERR_303_DIMENSION_MISMATCH"

	// Content errors (400-499)
	CodeEmptyContent  = "ERR_401_EMPTY_CONTENT"
	CodeSourceMissing = "ERR_402_SOURCE_MISSING"
	CodeFetchFailed   = "ERR_403_FETCH_FAILED"

	// Consistency errors (500-599)
	CodeConflict         = "ERR_501_CONFLICT"
	CodeStaleFingerprint = "ERR_502_STALE_FINGERPRINT"
	CodeNoStandby        = "ERR_503_NO_STANDBY_GENERATION"
)

// retryableCodes lists codes whose operations may be retried with backoff.
// Embedding rejection and consistency violations are never retryable:
// retrying them without new input cannot succeed.
var retryableCodes = map[string]bool{
	CodeStoreUnavailable:     true,
	CodeStoreFailed:          true,
	CodeEmbeddingUnavailable: true,
	CodeFetchFailed:          true,
}

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryConsistency
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStore
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryContent
	default:
		return CategoryConsistency
	}
}

// severityFromCode derives severity from error code.
// Config errors are fatal (the process cannot run without valid config);
// everything else fails the current operation only.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryConsistency:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode reports whether operations failing with this code
// may be retried.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
