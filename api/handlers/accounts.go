package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
)

type AccountsHandler struct {
	accounts  interfaces.GmailAccountRepository
	requester interfaces.SyncJobRequester
	sync      interfaces.SyncService
	labels    interfaces.LabelService
	watches   interfaces.WatchService
}

func NewAccountsHandler(accounts interfaces.GmailAccountRepository, requester interfaces.SyncJobRequester, sync interfaces.SyncService, labels interfaces.LabelService, watches interfaces.WatchService) *AccountsHandler {
	return &AccountsHandler{
		accounts:  accounts,
		requester: requester,
		sync:      sync,
		labels:    labels,
		watches:   watches,
	}
}

type syncRequest struct {
	HistoryID uint64 `json:"historyId"`
}

// Sync queues a sync for the account: 202 when queued, 409 when one is already in
// flight.
func (h *AccountsHandler) Sync() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var request syncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&request); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		account, ok := h.loadAccount(c)
		if !ok {
			return
		}

		queued, err := h.requester.RequestSync(ctx, account.ID, request.HistoryID, enum.SyncReasonManual)
		if err != nil {
			respondError(c, err)
			return
		}
		respondQueued(c, account.ID, queued)
	}
}

// Resync drops every cursor of the account and queues a full sync.
func (h *AccountsHandler) Resync() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		account, ok := h.loadAccount(c)
		if !ok {
			return
		}

		if err := h.sync.ResetCursor(ctx, account.ID); err != nil {
			respondError(c, err)
			return
		}

		queued, err := h.requester.RequestSync(ctx, account.ID, 0, enum.SyncReasonResync)
		if err != nil {
			respondError(c, err)
			return
		}
		respondQueued(c, account.ID, queued)
	}
}

func (h *AccountsHandler) SyncLabels() gin.HandlerFunc {
	return func(c *gin.Context) {
		labels, err := h.labels.SyncLabels(c.Request.Context(), c.Param("accountId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"labels": labels})
	}
}

// Watch applies the push registration rule to the account and reports the outcome.
func (h *AccountsHandler) Watch() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, ok := h.loadAccount(c)
		if !ok {
			return
		}

		if err := h.watches.Apply(c.Request.Context(), account); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"accountId":      account.ID,
			"watching":       account.WatchExpiresAt != nil,
			"watchExpiresAt": account.WatchExpiresAt,
		})
	}
}

func (h *AccountsHandler) loadAccount(c *gin.Context) (*models.GmailAccount, bool) {
	account, err := h.accounts.GetByID(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if account == nil {
		respondError(c, mserrors.ErrAccountNotFound)
		return nil, false
	}
	return account, true
}

func respondQueued(c *gin.Context, accountID string, queued bool) {
	if !queued {
		c.JSON(http.StatusConflict, gin.H{"accountId": accountID, "queued": false, "error": "sync already in progress"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accountId": accountID, "queued": true})
}
