package agent

import "errors"

// Errors reported through the invalid observation and invalid asset
// callbacks. Use errors.Is to classify a reported error.
var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnknownDataItem = errors.New("unknown data item")
	ErrValidation      = errors.New("validation failed")
	ErrVersion         = errors.New("unsupported by device version")
	ErrUnknownAsset    = errors.New("unknown asset")
)
