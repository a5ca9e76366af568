package domain

import "errors"

var (
	ErrInvalidSubmission = errors.New("invalid_sync_submission")
	ErrEmptyBatch        = errors.New("empty_sync_batch")
	ErrBatchTooLarge     = errors.New("sync_batch_too_large")
)
