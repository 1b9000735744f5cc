package reconciler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
	"github.com/customeros/mailsync/services/attachments"
)

type fixture struct {
	store      *testutil.Store
	storage    *testutil.MemoryStorage
	reconciler interfaces.MessageReconciler
	account    *models.GmailAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore()
	storage := testutil.NewMemoryStorage()
	account := store.AddAccount(&models.GmailAccount{
		EmailAddress: "owner@acme.com",
		LinkedUserID: "user-1",
		RefreshToken: "token",
		SyncEnabled:  true,
	})
	store.AddAccount(&models.GmailAccount{EmailAddress: "colleague@acme.com"})

	attachmentService := attachments.NewAttachmentService(testutil.Logger(), storage, store.Attachments(), "bucket")
	return &fixture{
		store:      store,
		storage:    storage,
		reconciler: NewMessageReconciler(testutil.Logger(), store.Accounts(), store.Emails(), store.Threads(), attachmentService),
		account:    account,
	}
}

// ingest runs the reconcile, resolve and apply steps the way the sync loop does.
func (f *fixture) ingest(t *testing.T, raw *dto.RawMessage) (*models.EmailThread, error) {
	t.Helper()
	ctx := context.Background()
	email, parsed, err := f.reconciler.Reconcile(ctx, raw, f.account)
	if err != nil {
		return nil, err
	}
	thread, err := f.reconciler.ResolveThread(ctx, f.account.ID, raw.ThreadID, parsed.ThreadingIDs())
	require.NoError(t, err)
	return f.reconciler.ApplyToThread(ctx, f.account, thread, email, parsed)
}

var baseTime = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

func TestReconcile_BuildsEmail(t *testing.T) {
	f := newFixture(t)
	raw := testutil.BuildRawMessage(testutil.RawMessageSpec{
		ID:         "m1",
		HistoryID:  120,
		MessageID:  "abc@mail.acme.com",
		From:       "Jane Doe <Jane@Example.com>",
		To:         "owner@acme.com, Bob <bob@example.com>",
		Cc:         "not-an-address",
		Subject:    "Quarterly numbers",
		Date:       baseTime,
		InReplyTo:  "<parent@example.com>",
		References: "<root@example.com> <parent@example.com>",
		Text:       "Looks right.\n\nOn Sun, Jan 5, 2025 Bob wrote:\n> numbers",
	})
	raw.ThreadID = "t1"

	email, parsed, err := f.reconciler.Reconcile(context.Background(), raw, f.account)
	require.NoError(t, err)

	assert.Equal(t, "abc@mail.acme.com", email.MessageID)
	assert.Equal(t, "m1", email.RemoteMessageID)
	assert.Equal(t, "t1", email.RemoteThreadID)
	assert.Equal(t, uint64(120), email.HistoryID)
	assert.Equal(t, "jane@example.com", email.FromAddress)
	assert.Equal(t, "Jane Doe", email.FromName)
	assert.ElementsMatch(t, []string{"owner@acme.com", "bob@example.com"}, []string(email.ToAddresses))
	assert.Empty(t, email.CcAddresses)
	assert.Equal(t, "Looks right.", email.BodyText)
	assert.Equal(t, enum.EmailReceived, email.Direction)
	assert.Equal(t, "parent@example.com", email.InReplyTo)
	assert.Equal(t, []string{"root@example.com", "parent@example.com"}, []string(email.References))
	require.NotNil(t, email.SentAt)
	assert.True(t, baseTime.Equal(*email.SentAt))

	assert.Equal(t, "Quarterly numbers", parsed.Subject)
	assert.Equal(t, []string{"abc@mail.acme.com", "root@example.com", "parent@example.com"}, parsed.ThreadingIDs())
}

func TestReconcile_DirectionSentForKnownIdentity(t *testing.T) {
	f := newFixture(t)

	own := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "a@x", From: "owner@acme.com", To: "c@example.com", Text: "hi"})
	email, _, err := f.reconciler.Reconcile(context.Background(), own, f.account)
	require.NoError(t, err)
	assert.Equal(t, enum.EmailSent, email.Direction)

	colleague := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "b@x", From: "Colleague <colleague@acme.com>", To: "c@example.com", Text: "hi"})
	email, _, err = f.reconciler.Reconcile(context.Background(), colleague, f.account)
	require.NoError(t, err)
	assert.Equal(t, enum.EmailSent, email.Direction)
}

func TestReconcile_MissingMessageIDUsesRemoteID(t *testing.T) {
	f := newFixture(t)
	raw := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "18ABC", From: "a@example.com", Text: "hi"})

	email, _, err := f.reconciler.Reconcile(context.Background(), raw, f.account)
	require.NoError(t, err)
	assert.Equal(t, "18abc@gmail.remote", email.MessageID)
}

func TestReconcile_PlainTextFromHTML(t *testing.T) {
	f := newFixture(t)
	raw := testutil.BuildRawMessage(testutil.RawMessageSpec{
		ID:        "m1",
		MessageID: "html@x",
		From:      "a@example.com",
		HTML:      `<div>New text</div><div class="gmail_quote">On Mon wrote: old text</div>`,
	})

	email, _, err := f.reconciler.Reconcile(context.Background(), raw, f.account)
	require.NoError(t, err)
	assert.Equal(t, "New text", email.BodyText)
	assert.NotContains(t, email.BodyHTML, "old text")
}

func TestReconcile_CorruptPayload(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.reconciler.Reconcile(context.Background(), &dto.RawMessage{ID: "m1"}, f.account)
	assert.ErrorIs(t, err, mserrors.ErrCorruptItem)
}

func TestIngest_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	spec := testutil.RawMessageSpec{ID: "m1", MessageID: "once@x", From: "a@example.com", To: "owner@acme.com", Subject: "Hello", Date: baseTime, Text: "hi"}

	first := testutil.BuildRawMessage(spec)
	first.ThreadID = "t1"
	_, err := f.ingest(t, first)
	require.NoError(t, err)

	again := testutil.BuildRawMessage(spec)
	again.ThreadID = "t1"
	_, err = f.ingest(t, again)
	assert.ErrorIs(t, err, mserrors.ErrDuplicateMessage)

	assert.Len(t, f.store.AllEmails(), 1)
	threads := f.store.AllThreads()
	require.Len(t, threads, 1)
	assert.Equal(t, 1, threads[0].MessageCount)
}

func TestIngest_AggregatesThread(t *testing.T) {
	f := newFixture(t)

	first := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "1@x", From: "a@example.com", To: "owner@acme.com", Subject: "Kickoff", Date: baseTime, Text: "one"})
	first.ThreadID = "t1"
	second := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "2@x", From: "owner@acme.com", To: "a@example.com", Cc: "b@example.com", Subject: "Re: Kickoff", Date: baseTime.Add(time.Hour), Text: "two"})
	second.ThreadID = "t1"

	_, err := f.ingest(t, first)
	require.NoError(t, err)
	thread, err := f.ingest(t, second)
	require.NoError(t, err)

	assert.Equal(t, "Kickoff", thread.Subject)
	assert.Equal(t, "t1", thread.RemoteThreadID)
	assert.Equal(t, 2, thread.MessageCount)
	assert.Equal(t, "2@x", thread.LastMessageID)
	assert.True(t, baseTime.Equal(*thread.FirstMessageAt))
	assert.True(t, baseTime.Add(time.Hour).Equal(*thread.LastMessageAt))
	assert.ElementsMatch(t, []string{"a@example.com", "owner@acme.com", "b@example.com"}, []string(thread.Participants))

	for _, email := range f.store.AllEmails() {
		assert.Equal(t, thread.ID, email.ThreadID)
	}
}

func TestIngest_EarlierEmailTakesOverSubject(t *testing.T) {
	f := newFixture(t)

	reply := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "2@x", From: "owner@acme.com", To: "a@example.com", Subject: "Re: Kickoff", Date: baseTime.Add(time.Hour), Text: "two"})
	reply.ThreadID = "t1"
	original := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "1@x", From: "a@example.com", To: "owner@acme.com", Subject: "Kickoff", Date: baseTime, Text: "one"})
	original.ThreadID = "t1"
	late := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m3", MessageID: "3@x", From: "a@example.com", To: "owner@acme.com", Subject: "Re: Re: Kickoff", Date: baseTime.Add(2 * time.Hour), Text: "three"})
	late.ThreadID = "t1"

	thread, err := f.ingest(t, reply)
	require.NoError(t, err)
	assert.Equal(t, "Re: Kickoff", thread.Subject)

	// the original shows up in a later run
	thread, err = f.ingest(t, original)
	require.NoError(t, err)
	assert.Equal(t, "Kickoff", thread.Subject)
	assert.True(t, baseTime.Equal(*thread.FirstMessageAt))

	thread, err = f.ingest(t, late)
	require.NoError(t, err)
	assert.Equal(t, "Kickoff", thread.Subject)
	assert.Equal(t, 3, thread.MessageCount)
}

func TestIngest_ParticipantsCoverAllAddresses(t *testing.T) {
	f := newFixture(t)
	raw := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "p@x", From: "a@example.com", To: "b@example.com", Cc: "c@example.com", Text: "hi"})
	raw.ThreadID = "t1"

	thread, err := f.ingest(t, raw)
	require.NoError(t, err)

	email := f.store.AllEmails()[0]
	for _, address := range append(email.Addresses(), f.account.EmailAddress) {
		assert.Contains(t, []string(thread.Participants), strings.ToLower(address))
	}
}

func TestResolveThread_ReferenceFallbackFirstMatchWins(t *testing.T) {
	f := newFixture(t)

	older := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "root@x", From: "a@example.com", Date: baseTime, Text: "root"})
	older.ThreadID = "t-root"
	rootThread, err := f.ingest(t, older)
	require.NoError(t, err)

	other := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "parent@x", From: "a@example.com", Date: baseTime, Text: "parent"})
	other.ThreadID = "t-parent"
	parentThread, err := f.ingest(t, other)
	require.NoError(t, err)

	// the message's own id comes first, then References in header order
	thread, err := f.reconciler.ResolveThread(context.Background(), f.account.ID, "", []string{"unknown@x", "parent@x", "root@x"})
	require.NoError(t, err)
	require.NotNil(t, thread)
	assert.Equal(t, parentThread.ID, thread.ID)
	assert.NotEqual(t, rootThread.ID, thread.ID)
}

func TestResolveThread_RemoteIDBeatsReferences(t *testing.T) {
	f := newFixture(t)

	a := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "a@x", From: "a@example.com", Text: "a"})
	a.ThreadID = "t-a"
	threadA, err := f.ingest(t, a)
	require.NoError(t, err)

	b := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "b@x", From: "a@example.com", Text: "b"})
	b.ThreadID = "t-b"
	threadB, err := f.ingest(t, b)
	require.NoError(t, err)

	thread, err := f.reconciler.ResolveThread(context.Background(), f.account.ID, "t-a", []string{"b@x"})
	require.NoError(t, err)
	assert.Equal(t, threadA.ID, thread.ID)
	assert.NotEqual(t, threadB.ID, thread.ID)
}

func TestResolveThread_NoMatch(t *testing.T) {
	f := newFixture(t)
	thread, err := f.reconciler.ResolveThread(context.Background(), f.account.ID, "missing", []string{"nothing@x"})
	require.NoError(t, err)
	assert.Nil(t, thread)
}

func TestIngest_RemoteThreadIDNeverChanges(t *testing.T) {
	f := newFixture(t)

	first := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "1@x", From: "a@example.com", Text: "one"})
	first.ThreadID = "t1"
	thread, err := f.ingest(t, first)
	require.NoError(t, err)

	// reply arriving under a different remote thread id but referencing the first message
	reply := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m2", MessageID: "2@x", From: "a@example.com", References: "<1@x>", Text: "two"})
	reply.ThreadID = "t2"
	joined, err := f.ingest(t, reply)
	require.NoError(t, err)

	assert.Equal(t, thread.ID, joined.ID)
	assert.Equal(t, "t1", joined.RemoteThreadID)
	assert.Len(t, f.store.AllThreads(), 1)
}

func TestIngest_MaterializesAttachmentsAndRewritesCID(t *testing.T) {
	f := newFixture(t)
	f.storage.PublicURL = "https://files.acme.com"

	raw := &dto.RawMessage{
		ID:       "m1",
		ThreadID: "t1",
		LabelIDs: []string{"INBOX"},
		Raw: []byte(strings.Join([]string{
			"From: a@example.com",
			"To: owner@acme.com",
			"Subject: Logo",
			"Message-ID: <logo@x>",
			"MIME-Version: 1.0",
			`Content-Type: multipart/related; boundary="rel"`,
			"",
			"--rel",
			"Content-Type: text/html; charset=utf-8",
			"",
			`<p>See <img src="cid:logo123"></p>`,
			"--rel",
			"Content-Type: image/png",
			"Content-ID: <logo123>",
			"Content-Disposition: inline; filename=\"logo.png\"",
			"Content-Transfer-Encoding: base64",
			"",
			"iVBORw0KGgo=",
			"--rel--",
			"",
		}, "\r\n")),
	}

	thread, err := f.ingest(t, raw)
	require.NoError(t, err)
	assert.True(t, thread.HasAttachments)

	emails := f.store.AllEmails()
	require.Len(t, emails, 1)
	assert.True(t, emails[0].HasAttachment)

	key := attachments.StorageKey(f.account.ID, thread.ID, emails[0].ID, "logo.png")
	assert.Contains(t, f.storage.Objects, key)
	assert.Contains(t, emails[0].BodyHTML, "https://files.acme.com/"+key)
	assert.NotContains(t, emails[0].BodyHTML, "cid:logo123")

	stored := f.store.AllAttachments()
	require.Len(t, stored, 1)
	assert.Equal(t, "logo123", stored[0].ContentID)
	assert.True(t, stored[0].IsInline)
	assert.Equal(t, []string{emails[0].ID}, []string(stored[0].Emails))
}

func TestApplyToThread_WarnsButKeepsDuplicateReference(t *testing.T) {
	f := newFixture(t)
	f.store.PutThread(&models.EmailThread{ID: "thread-linked", AccountID: f.account.ID, ReferenceType: "Deal", ReferenceID: "D-1", Status: enum.ThreadStatusLinked})

	thread := &models.EmailThread{ID: "thread-second", AccountID: f.account.ID, RemoteThreadID: "t2", ReferenceType: "Deal", ReferenceID: "D-1", Status: enum.ThreadStatusLinked}
	f.store.PutThread(thread)

	raw := testutil.BuildRawMessage(testutil.RawMessageSpec{ID: "m1", MessageID: "r@x", From: "a@example.com", Text: "hi"})
	raw.ThreadID = "t2"
	applied, err := f.ingest(t, raw)
	require.NoError(t, err)
	assert.Equal(t, "thread-second", applied.ID)
	assert.Equal(t, 1, applied.MessageCount)
}
