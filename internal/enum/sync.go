package enum

type SyncJobStatus string

const (
	SyncJobPending SyncJobStatus = "pending"
	SyncJobRunning SyncJobStatus = "running"
)

func (s SyncJobStatus) String() string {
	return string(s)
}

type SyncReason string

const (
	SyncReasonPush     SyncReason = "push"
	SyncReasonPeriodic SyncReason = "periodic"
	SyncReasonManual   SyncReason = "manual"
	SyncReasonResync   SyncReason = "resync"
)

func (s SyncReason) String() string {
	return string(s)
}

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)
