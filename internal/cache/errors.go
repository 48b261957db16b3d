package cache

import "fmt"

// DownloadError reports a failed remote fetch or extraction. The partially
// created cache entry has already been rolled back when this is returned.
type DownloadError struct {
	TargetID string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("cache download failed for target %s: %v", e.TargetID, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
