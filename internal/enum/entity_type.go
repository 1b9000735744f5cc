package enum

type EntityType string

const (
	EMAIL_THREAD  EntityType = "EMAIL_THREAD"
	GMAIL_ACCOUNT EntityType = "GMAIL_ACCOUNT"
)

func (entityType EntityType) String() string {
	return string(entityType)
}
