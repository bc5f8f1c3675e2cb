package utils

import "errors"

// ErrorRecordNotFound marks lookups of entities that do not exist. Handlers
// match it with errors.Is to answer 404 instead of 422.
var ErrorRecordNotFound = errors.New("record not found")
