package transform

import "fmt"

// LockOwner derives the lease owner token for a scheduled attempt. The
// attempt suffix keeps a superseded worker from releasing its successor's
// lease.
func LockOwner(jobID string, attempt int) string {
	return fmt.Sprintf("%s#%d", jobID, attempt)
}
