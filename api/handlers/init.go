package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
)

// Dependencies are the collaborators the HTTP surface calls into.
type Dependencies struct {
	Accounts    interfaces.GmailAccountRepository
	Attachments interfaces.EmailAttachmentRepository
	Storage     interfaces.StorageService
	Requester   interfaces.SyncJobRequester
	Sync        interfaces.SyncService
	Labels      interfaces.LabelService
	Watches     interfaces.WatchService
	Threads     interfaces.ThreadService
	Trigger     interfaces.RealtimeTrigger
}

type APIHandlers struct {
	Accounts    *AccountsHandler
	Threads     *ThreadsHandler
	Attachments *AttachmentsHandler
	PubSub      *PubSubHandler
}

func InitHandlers(deps Dependencies) *APIHandlers {
	return &APIHandlers{
		Accounts:    NewAccountsHandler(deps.Accounts, deps.Requester, deps.Sync, deps.Labels, deps.Watches),
		Threads:     NewThreadsHandler(deps.Threads),
		Attachments: NewAttachmentsHandler(deps.Attachments, deps.Storage),
		PubSub:      NewPubSubHandler(deps.Trigger),
	}
}

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// errorStatus maps service errors onto response codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, mserrors.ErrAccountNotFound), errors.Is(err, mserrors.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, mserrors.ErrReferenceRequired):
		return http.StatusBadRequest
	case errors.Is(err, mserrors.ErrMissingCredential),
		errors.Is(err, mserrors.ErrSyncDisabled),
		errors.Is(err, mserrors.ErrMissingConfiguration):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}
