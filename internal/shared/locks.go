package shared

import "fmt"

// AdmissionLockKey builds the redis key serialising payment admission for an organisation.
func AdmissionLockKey(orgID int64) string {
	return fmt.Sprintf("settlement:org:%d:admission", orgID)
}

// SelectionKey builds the redis key holding a session's selected item ids.
func SelectionKey(sessionID string) string {
	return fmt.Sprintf("settlement:selection:%s:items", sessionID)
}

// SelectionKindKey builds the redis key holding the item kind of a session's selection.
func SelectionKindKey(sessionID string) string {
	return fmt.Sprintf("settlement:selection:%s:kind", sessionID)
}
