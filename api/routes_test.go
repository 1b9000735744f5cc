package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/customeros/mailsync/api/handlers"
	"github.com/customeros/mailsync/api/middleware"
	"github.com/customeros/mailsync/internal/enum"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/testutil"
	"github.com/customeros/mailsync/services/labels"
	"github.com/customeros/mailsync/services/realtime"
	"github.com/customeros/mailsync/services/threads"
)

const testAPIKey = "secret"

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) RequestSync(ctx context.Context, accountID string, hint uint64, reason enum.SyncReason) (bool, error) {
	args := m.Called(ctx, accountID, hint, reason)
	return args.Bool(0), args.Error(1)
}

type stubSync struct {
	resets []string
}

func (s *stubSync) SyncAccount(context.Context, string, uint64) error { return nil }

func (s *stubSync) ResetCursor(_ context.Context, accountID string) error {
	s.resets = append(s.resets, accountID)
	return nil
}

type stubWatches struct {
	applied []string
}

func (s *stubWatches) Apply(_ context.Context, account *models.GmailAccount) error {
	s.applied = append(s.applied, account.ID)
	expiresAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	account.WatchExpiresAt = &expiresAt
	return nil
}
func (s *stubWatches) Enable(context.Context, *models.GmailAccount) error  { return nil }
func (s *stubWatches) Disable(context.Context, *models.GmailAccount) error { return nil }
func (s *stubWatches) RenewAll(context.Context) error                      { return nil }

type fixture struct {
	router    *gin.Engine
	store     *testutil.Store
	storage   *testutil.MemoryStorage
	requester *mockRequester
	sync      *stubSync
	watches   *stubWatches
	account   *models.GmailAccount
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := testutil.NewStore()
	account := store.AddAccount(&models.GmailAccount{EmailAddress: "jane@acme.com", SyncEnabled: true, RefreshToken: "rt"})
	storage := testutil.NewMemoryStorage()
	requester := &mockRequester{}
	syncStub := &stubSync{}
	watches := &stubWatches{}
	mailbox := testutil.NewFakeMailbox()

	h := handlers.InitHandlers(handlers.Dependencies{
		Accounts:    store.Accounts(),
		Attachments: store.Attachments(),
		Storage:     storage,
		Requester:   requester,
		Sync:        syncStub,
		Labels:      labels.NewLabelService(testutil.Logger(), store.Accounts(), store.Labels(), &testutil.MailboxFactory{Mailbox: mailbox}),
		Watches:     watches,
		Threads:     threads.NewThreadService(testutil.Logger(), store.Threads(), &testutil.RecordingNotifier{}),
		Trigger:     realtime.NewRealtimeTrigger(testutil.Logger(), store.Accounts(), requester),
	})

	router := gin.New()
	RegisterRoutes(router, h, RouteConfig{APIKey: testAPIKey, PushToken: "push-token"})

	return &fixture{
		router:    router,
		store:     store,
		storage:   storage,
		requester: requester,
		sync:      syncStub,
		watches:   watches,
		account:   account,
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{name: "missing", key: "", want: "Missing API key"},
		{name: "wrong", key: "nope", want: "Invalid API key"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/threads?referenceType=a&referenceId=b", nil)
			if tt.key != "" {
				req.Header.Set(middleware.APIKeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestSync_QueuedAndInFlight(t *testing.T) {
	f := newFixture(t)
	f.requester.On("RequestSync", mock.Anything, f.account.ID, uint64(0), enum.SyncReasonManual).Return(true, nil).Once()
	f.requester.On("RequestSync", mock.Anything, f.account.ID, uint64(0), enum.SyncReasonManual).Return(false, nil).Once()

	first := f.do(http.MethodPost, "/v1/accounts/"+f.account.ID+"/sync", "")
	second := f.do(http.MethodPost, "/v1/accounts/"+f.account.ID+"/sync", "")

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	f.requester.AssertExpectations(t)
}

func TestSync_PassesHistoryHint(t *testing.T) {
	f := newFixture(t)
	f.requester.On("RequestSync", mock.Anything, f.account.ID, uint64(777), enum.SyncReasonManual).Return(true, nil).Once()

	w := f.do(http.MethodPost, "/v1/accounts/"+f.account.ID+"/sync", `{"historyId":777}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	f.requester.AssertExpectations(t)
}

func TestSync_UnknownAccount(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/accounts/gacc_missing/sync", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	f.requester.AssertNotCalled(t, "RequestSync", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResync_ResetsCursorsThenQueues(t *testing.T) {
	f := newFixture(t)
	f.requester.On("RequestSync", mock.Anything, f.account.ID, uint64(0), enum.SyncReasonResync).Return(true, nil).Once()

	w := f.do(http.MethodPost, "/v1/accounts/"+f.account.ID+"/resync", "")

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{f.account.ID}, f.sync.resets)
	f.requester.AssertExpectations(t)
}

func TestWatch_ReportsExpiry(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/v1/accounts/"+f.account.ID+"/watch", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{f.account.ID}, f.watches.applied)
	assert.Contains(t, w.Body.String(), `"watching":true`)
	assert.Contains(t, w.Body.String(), `"watchExpiresAt":"2026-01-01T00:00:00Z"`)
}

func TestThreads_LinkListUnlink(t *testing.T) {
	f := newFixture(t)
	thread := &models.EmailThread{AccountID: f.account.ID, RemoteThreadID: "r-1", Subject: "Plan"}
	_, err := f.store.Threads().Create(context.Background(), thread)
	require.NoError(t, err)

	w := f.do(http.MethodPut, "/v1/threads/"+thread.ID+"/reference", `{"referenceType":"Opportunity","referenceId":"opp-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/v1/threads?referenceType=Opportunity&referenceId=opp-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), thread.ID)

	w = f.do(http.MethodDelete, "/v1/threads/"+thread.ID+"/reference", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/v1/threads?referenceType=Opportunity&referenceId=opp-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"threads":[]}`, w.Body.String())
}

func TestThreads_Errors(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/v1/threads/thread_missing/reference", `{"referenceType":"Opportunity","referenceId":"opp-1"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPut, "/v1/threads/thread_missing/reference", `{"referenceType":"Opportunity"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/threads?referenceType=Opportunity", "").Code)
}

func TestAttachments_Download(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.storage.Upload(context.Background(), "acc/file_1/logo.png", []byte("png"), "image/png"))
	stored := &models.EmailAttachment{Filename: "logo.png", ContentType: "image/png", StorageKey: "acc/file_1/logo.png", IsInline: true}
	require.NoError(t, f.store.Attachments().Create(context.Background(), stored))
	metadataOnly := &models.EmailAttachment{Filename: "big.zip"}
	require.NoError(t, f.store.Attachments().Create(context.Background(), metadataOnly))

	w := f.do(http.MethodGet, "/v1/attachments/"+stored.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "png", w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename=logo.png`, w.Header().Get("Content-Disposition"))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/attachments/"+metadataOnly.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/attachments/file_missing", "").Code)
}

func TestPubSubPush(t *testing.T) {
	f := newFixture(t)
	f.requester.On("RequestSync", mock.Anything, f.account.ID, uint64(4242), enum.SyncReasonPush).Return(true, nil).Once()

	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"jane@acme.com","historyId":4242}`))
	body := `{"message":{"data":"` + data + `","messageId":"m-1"},"subscription":"s"}`

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gmail/pubsub?token=push-token", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gmail/pubsub?token=push-token", strings.NewReader("garbage")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/gmail/pubsub?token=wrong", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	f.requester.AssertExpectations(t)
}
