package priority

import "codeberg.org/mutker/powerctl/internal/errors"

const (
	ErrScanFailed = errors.ErrorCode("priority_scan_failed")
)
