package dto

import "github.com/customeros/mailsync/internal/enum"

// SyncAccountRequested is the job payload carried on the sync-jobs queue.
type SyncAccountRequested struct {
	AccountID     string          `json:"accountId"`
	DedupKey      string          `json:"dedupKey"`
	HistoryIDHint uint64          `json:"historyIdHint,omitempty"`
	Reason        enum.SyncReason `json:"reason"`
}

// ThreadUpdated is published once per external reference touched by an incremental run.
type ThreadUpdated struct {
	AccountID     string `json:"accountId"`
	ThreadID      string `json:"threadId"`
	ReferenceType string `json:"referenceType"`
	ReferenceID   string `json:"referenceId"`
}
