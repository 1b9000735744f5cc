package attachments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
)

func fixtures() (*models.EmailThread, *models.Email) {
	thread := &models.EmailThread{ID: "thread_1", AccountID: "gacc_1"}
	email := &models.Email{
		ID:        "email_1",
		AccountID: "gacc_1",
		BodyHTML:  `<p>Logo <img src="cid:logo@acme"></p>`,
	}
	return thread, email
}

func TestMaterialize_UploadsAndRewritesInline(t *testing.T) {
	store := testutil.NewStore()
	storage := testutil.NewMemoryStorage()
	svc := NewAttachmentService(testutil.Logger(), storage, store.Attachments(), "attachments")
	thread, email := fixtures()

	records, err := svc.Materialize(context.Background(), thread, email, []interfaces.ParsedAttachment{
		{FileName: "logo.png", ContentType: "image/png", ContentID: "logo@acme", Inline: true, Content: []byte("png")},
		{FileName: "q/3.pdf", ContentType: "application/pdf", Content: []byte("pdf")},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "gmail/gacc_1/thread_1/email_1/logo.png", records[0].StorageKey)
	assert.Equal(t, "gmail/gacc_1/thread_1/email_1/q_3.pdf", records[1].StorageKey)
	assert.Contains(t, storage.Objects, records[0].StorageKey)
	assert.Contains(t, email.BodyHTML, `src="/v1/attachments/`+records[0].ID+`"`)
	assert.NotContains(t, email.BodyHTML, "cid:")

	require.NoError(t, svc.Record(context.Background(), records))
	assert.Len(t, store.AllAttachments(), 2)
}

func TestMaterialize_PublicURL(t *testing.T) {
	storage := testutil.NewMemoryStorage()
	storage.PublicURL = "https://files.acme.com"
	svc := NewAttachmentService(testutil.Logger(), storage, testutil.NewStore().Attachments(), "attachments")
	thread, email := fixtures()

	_, err := svc.Materialize(context.Background(), thread, email, []interfaces.ParsedAttachment{
		{FileName: "logo.png", ContentType: "image/png", ContentID: "logo@acme", Inline: true, Content: []byte("png")},
	})
	require.NoError(t, err)

	assert.Contains(t, email.BodyHTML, `src="https://files.acme.com/gmail/gacc_1/thread_1/email_1/logo.png"`)
}

func TestMaterialize_WithoutStorageKeepsMetadataOnly(t *testing.T) {
	svc := NewAttachmentService(testutil.Logger(), nil, testutil.NewStore().Attachments(), "attachments")
	thread, email := fixtures()
	original := email.BodyHTML

	records, err := svc.Materialize(context.Background(), thread, email, []interfaces.ParsedAttachment{
		{FileName: "logo.png", ContentType: "image/png", ContentID: "logo@acme", Inline: true, Content: []byte("png")},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Empty(t, records[0].StorageKey)
	assert.Equal(t, 3, records[0].Size)
	assert.NotEmpty(t, records[0].ContentHash)
	assert.Equal(t, original, email.BodyHTML)
}

func TestRewriteInlineSources_UnknownCIDUnchanged(t *testing.T) {
	body := `<p><img src="cid:other"></p>`
	assert.Equal(t, body, RewriteInlineSources(body, map[string]string{"logo@acme": "/x"}))
}
