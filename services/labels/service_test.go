package labels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

func TestSyncLabels_InsertsMissingLabelsDisabled(t *testing.T) {
	store := testutil.NewStore()
	account := store.AddAccount(&models.GmailAccount{
		EmailAddress: "jane@acme.com",
		RefreshToken: "rt",
		Labels:       []models.GmailLabel{{RemoteID: "INBOX", Name: "INBOX", Enabled: true}},
	})
	mailbox := testutil.NewFakeMailbox()
	mailbox.Labels = []dto.RemoteLabel{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "DRAFT", Name: "DRAFT", Type: "system"},
		{ID: "SENT", Name: "SENT", Type: "system"},
		{ID: "Label_3", Name: "Customers", Type: "user"},
	}
	svc := NewLabelService(testutil.Logger(), store.Accounts(), store.Labels(), &testutil.MailboxFactory{Mailbox: mailbox})

	labels, err := svc.SyncLabels(context.Background(), account.ID)
	require.NoError(t, err)

	byRemote := map[string]*models.GmailLabel{}
	for _, label := range labels {
		byRemote[label.RemoteID] = label
	}
	require.Len(t, byRemote, 3)
	assert.True(t, byRemote["INBOX"].Enabled, "existing selection is kept")
	assert.False(t, byRemote["SENT"].Enabled)
	assert.False(t, byRemote["Label_3"].Enabled)
	assert.Equal(t, "Customers", byRemote["Label_3"].Name)
	assert.NotContains(t, byRemote, "DRAFT")
}

func TestSyncLabels_IsRepeatable(t *testing.T) {
	store := testutil.NewStore()
	account := store.AddAccount(&models.GmailAccount{EmailAddress: "jane@acme.com", RefreshToken: "rt"})
	mailbox := testutil.NewFakeMailbox()
	mailbox.Labels = []dto.RemoteLabel{{ID: "INBOX", Name: "INBOX"}}
	svc := NewLabelService(testutil.Logger(), store.Accounts(), store.Labels(), &testutil.MailboxFactory{Mailbox: mailbox})

	_, err := svc.SyncLabels(context.Background(), account.ID)
	require.NoError(t, err)
	labels, err := svc.SyncLabels(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Len(t, labels, 1)
}

func TestSyncLabels_UnknownAccount(t *testing.T) {
	store := testutil.NewStore()
	svc := NewLabelService(testutil.Logger(), store.Accounts(), store.Labels(), &testutil.MailboxFactory{Mailbox: testutil.NewFakeMailbox()})

	_, err := svc.SyncLabels(context.Background(), "gacc_missing")
	assert.ErrorIs(t, err, mserrors.ErrAccountNotFound)
}

func TestSyncLabels_MissingCredential(t *testing.T) {
	store := testutil.NewStore()
	account := store.AddAccount(&models.GmailAccount{EmailAddress: "jane@acme.com"})
	svc := NewLabelService(testutil.Logger(), store.Accounts(), store.Labels(), &testutil.MailboxFactory{Mailbox: testutil.NewFakeMailbox()})

	_, err := svc.SyncLabels(context.Background(), account.ID)
	assert.ErrorIs(t, err, mserrors.ErrMissingCredential)
}
