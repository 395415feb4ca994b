package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorScanNotCommitted is returned to callers when the scan transaction
// exhausted its retries; the caller may resubmit with the same idempotency
// token.
var ErrorScanNotCommitted = errors.New("scan could not be committed; resubmit with the same idempotency token")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
