package enum

type EmailDirection string

const (
	EmailSent     EmailDirection = "sent"
	EmailReceived EmailDirection = "received"
)

func (t EmailDirection) String() string {
	return string(t)
}

type ThreadStatus string

const (
	ThreadStatusOpen   ThreadStatus = "open"
	ThreadStatusLinked ThreadStatus = "linked"
)

func (t ThreadStatus) String() string {
	return string(t)
}

// Gmail system labels the engine treats specially.
const (
	GmailLabelDraft = "DRAFT"
	GmailLabelSent  = "SENT"
)
