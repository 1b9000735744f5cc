package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	tracingLog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
	"github.com/customeros/mailsync/services/gmail"
)

type syncService struct {
	log        logger.Logger
	cfg        *config.SyncConfig
	accounts   interfaces.GmailAccountRepository
	labelSync  interfaces.LabelSyncRepository
	threads    interfaces.EmailThreadRepository
	factory    interfaces.MailboxAPIFactory
	gate       interfaces.RateLimitGate
	reconciler interfaces.MessageReconciler
	notifier   interfaces.Notifier
}

func NewSyncService(
	log logger.Logger,
	cfg *config.SyncConfig,
	accounts interfaces.GmailAccountRepository,
	labelSync interfaces.LabelSyncRepository,
	threads interfaces.EmailThreadRepository,
	factory interfaces.MailboxAPIFactory,
	gate interfaces.RateLimitGate,
	reconciler interfaces.MessageReconciler,
	notifier interfaces.Notifier,
) interfaces.SyncService {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	return &syncService{
		log:        log,
		cfg:        cfg,
		accounts:   accounts,
		labelSync:  labelSync,
		threads:    threads,
		factory:    factory,
		gate:       gate,
		reconciler: reconciler,
		notifier:   notifier,
	}
}

// labelRun carries everything one (account, label) pass needs.
type labelRun struct {
	account *models.GmailAccount
	label   models.GmailLabel
	api     interfaces.MailboxAPI
	batch   interfaces.BatchClient
	log     logger.Logger
}

// SyncAccount runs every enabled label of the account. Label failures are logged and do
// not stop the other labels; only account level errors are returned.
func (s *syncService) SyncAccount(ctx context.Context, accountID string, historyIDHint uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.SyncAccount")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)
	span.SetTag("history_id_hint", historyIDHint)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to load account")
	}
	if account == nil {
		tracing.TraceErr(span, mserrors.ErrAccountNotFound)
		return mserrors.ErrAccountNotFound
	}
	if !account.SyncEnabled {
		return mserrors.ErrSyncDisabled
	}
	if !account.HasCredential() {
		tracing.TraceErr(span, mserrors.ErrMissingCredential)
		return mserrors.ErrMissingCredential
	}
	ctx = utils.SetAccountInContext(ctx, account.ID, account.EmailAddress)

	labels := account.EnabledLabels()
	if len(labels) == 0 {
		s.log.Infof("account %s has no enabled labels, nothing to sync", account.ID)
		return nil
	}

	api, err := s.factory.ForAccount(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	batch := gmail.NewBatchClient(api, s.cfg.MessageBatchSize, gmail.DefaultParallelism)

	for _, label := range labels {
		run := &labelRun{
			account: account,
			label:   label,
			api:     api,
			batch:   batch,
			log:     s.log.With(zap.String("account_id", account.ID), zap.String("label", label.RemoteID)),
		}
		err := s.runLabel(ctx, run, historyIDHint)
		if err == nil {
			continue
		}
		if mserrors.IsAccountLevel(err) {
			tracing.TraceErr(span, err)
			return err
		}
		tracing.TraceErr(span, err, tracingLog.String("label", label.RemoteID))
		run.log.Errorf("label sync failed: %v", err)
	}

	return nil
}

// runLabel isolates one label pass, panics included.
func (s *syncService) runLabel(ctx context.Context, run *labelRun, historyIDHint uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while syncing label %s: %v", run.label.RemoteID, r)
		}
	}()

	state, err := s.labelSync.GetSyncState(ctx, run.account.ID, run.label.RemoteID)
	if err != nil {
		return errors.Wrap(err, "failed to read label cursor")
	}
	if state == nil || state.LastHistoryID == 0 {
		return s.fullSync(ctx, run)
	}
	if historyIDHint > 0 && state.LastHistoryID >= historyIDHint {
		run.log.Debugf("cursor %d already covers hint %d", state.LastHistoryID, historyIDHint)
		return nil
	}
	return s.incrementalSync(ctx, run, state.LastHistoryID)
}

func (s *syncService) fullSync(ctx context.Context, run *labelRun) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.fullSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("label", run.label.RemoteID)
	span.SetTag("mode", enum.SyncModeFull)

	ids, err := run.api.ListThreadIDs(ctx, run.label.RemoteID, s.cfg.MaxThreads)
	if err != nil {
		if s.armCooldown(ctx, run, err) {
			return nil
		}
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to list threads")
	}
	// the API lists newest first
	ids = utils.Reverse(ids)
	span.SetTag("threads", len(ids))
	run.log.Infof("full sync of %d threads", len(ids))

	var maxObserved uint64
	complete := true

	for _, chunk := range utils.Chunk(ids, s.cfg.ThreadBatchSize) {
		if wait := s.gate.IsCoolingDown(ctx, run.account.ID); wait > 0 {
			run.log.Infof("rate limited for another %s, full sync paused", wait)
			return nil
		}

		threads, itemErrs, err := run.batch.FetchThreadsByIDs(ctx, chunk)
		if err != nil {
			if s.armCooldown(ctx, run, err) {
				return nil
			}
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "failed to fetch threads")
		}
		if s.hasTransient(run, itemErrs) {
			complete = false
		}

		for _, threadID := range chunk {
			payload, ok := threads[threadID]
			if !ok {
				continue
			}
			threadMax, threadComplete, err := s.syncThread(ctx, run, payload)
			if err != nil {
				if s.armCooldown(ctx, run, err) {
					return nil
				}
				tracing.TraceErr(span, err)
				return err
			}
			maxObserved = MaxObserved(maxObserved, threadMax)
			complete = complete && threadComplete
		}
	}

	if !complete {
		run.log.Warnf("full sync had transient item failures, cursor not committed")
		return nil
	}
	if maxObserved == 0 {
		return nil
	}
	if err := s.labelSync.CommitCursor(ctx, run.account.ID, run.label.RemoteID, maxObserved); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to commit cursor")
	}
	span.SetTag("cursor", maxObserved)
	run.log.Infof("full sync done, cursor at %d", maxObserved)
	return nil
}

// syncThread fetches and stores the messages of one remote thread, then stamps the local
// thread's bookkeeping. The returned history id only covers messages that reached the store.
func (s *syncService) syncThread(ctx context.Context, run *labelRun, payload *dto.ThreadPayload) (uint64, bool, error) {
	var maxObserved uint64
	messageIDs := make([]string, 0, len(payload.Messages))
	for _, ref := range payload.Messages {
		if ref.IsDraft() {
			continue
		}
		messageIDs = append(messageIDs, ref.ID)
	}
	if len(messageIDs) == 0 {
		return maxObserved, true, nil
	}

	raws, itemErrs, err := run.batch.FetchMessagesRaw(ctx, messageIDs)
	if err != nil {
		return maxObserved, false, err
	}
	complete := !s.hasTransient(run, itemErrs)

	latest := make(map[string]time.Time)
	for _, raw := range orderedByTimestamp(messageIDs, raws) {
		thread, email, stored, err := s.ingest(ctx, run, raw)
		if err != nil {
			return maxObserved, complete, err
		}
		if stored {
			maxObserved = MaxObserved(maxObserved, raw.HistoryID)
		}
		if thread == nil {
			continue
		}
		if ts := email.Timestamp(); ts.After(latest[thread.ID]) {
			latest[thread.ID] = ts
		}
	}

	for threadID, modifiedAt := range latest {
		if err := s.threads.SetBookkeeping(ctx, threadID, modifiedAt, run.account.LinkedUserID); err != nil {
			return maxObserved, complete, errors.Wrap(err, "failed to write thread bookkeeping")
		}
	}
	return maxObserved, complete, nil
}

func (s *syncService) incrementalSync(ctx context.Context, run *labelRun, start uint64) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.incrementalSync")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("label", run.label.RemoteID)
	span.SetTag("start", start)
	span.SetTag("mode", enum.SyncModeIncremental)

	feed, err := run.api.ListHistory(ctx, start, run.label.RemoteID)
	if err != nil {
		if errors.Is(err, mserrors.ErrCursorExpired) {
			run.log.Warnf("history cursor %d expired upstream, label will run a full sync next time", start)
			if resetErr := s.labelSync.ResetCursor(ctx, run.account.ID, run.label.RemoteID); resetErr != nil {
				tracing.TraceErr(span, resetErr)
				return errors.Wrap(resetErr, "failed to reset expired cursor")
			}
			return nil
		}
		if s.armCooldown(ctx, run, err) {
			return nil
		}
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to read history")
	}

	ids := utils.UniqueStrings(feed.MessageIDs)
	span.SetTag("messages", len(ids))

	touched := newReferenceSet()
	defer s.notifyTouched(ctx, run, touched)
	complete := true

	for _, chunk := range utils.Chunk(ids, s.cfg.MessageBatchSize) {
		if wait := s.gate.IsCoolingDown(ctx, run.account.ID); wait > 0 {
			run.log.Infof("rate limited for another %s, incremental sync paused at %d", wait, start)
			return nil
		}

		raws, itemErrs, err := run.batch.FetchMessagesRaw(ctx, chunk)
		if err != nil {
			if s.armCooldown(ctx, run, err) {
				return nil
			}
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "failed to fetch messages")
		}
		if s.hasTransient(run, itemErrs) {
			complete = false
		}

		for _, raw := range orderedByTimestamp(chunk, raws) {
			thread, _, _, err := s.ingest(ctx, run, raw)
			if err != nil {
				tracing.TraceErr(span, err)
				return err
			}
			if thread != nil && thread.HasReference() {
				touched.add(run.account.ID, thread)
			}
		}
	}

	if complete {
		cursor := MaxObserved(start, feed.HistoryID)
		if err := s.labelSync.CommitCursor(ctx, run.account.ID, run.label.RemoteID, cursor); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "failed to commit cursor")
		}
		span.SetTag("cursor", cursor)
	} else {
		run.log.Warnf("incremental sync had transient item failures, cursor held at %d", start)
	}
	return nil
}

// notifyTouched publishes one thread updated event per linked thread stored so far. It runs
// on every exit of an incremental pass, paused ones included.
func (s *syncService) notifyTouched(ctx context.Context, run *labelRun, touched *referenceSet) {
	for _, event := range touched.events {
		if err := s.notifier.ThreadUpdated(ctx, event); err != nil {
			run.log.Errorf("failed to publish thread updated for %s/%s: %v", event.ReferenceType, event.ReferenceID, err)
		}
	}
}

// ingest stores one message. Skipped messages return a nil thread and no error; stored is
// true when the message is in the store afterwards, duplicates included.
func (s *syncService) ingest(ctx context.Context, run *labelRun, raw *dto.RawMessage) (*models.EmailThread, *models.Email, bool, error) {
	if raw.IsDraft() {
		return nil, nil, false, nil
	}

	email, parsed, err := s.reconciler.Reconcile(ctx, raw, run.account)
	if err != nil {
		stored, err := skippable(run, raw, err)
		return nil, nil, stored, err
	}

	thread, err := s.reconciler.ResolveThread(ctx, run.account.ID, raw.ThreadID, parsed.ThreadingIDs())
	if err != nil {
		return nil, nil, false, errors.Wrapf(err, "failed to resolve thread of message %s", raw.ID)
	}

	thread, err = s.reconciler.ApplyToThread(ctx, run.account, thread, email, parsed)
	if err != nil {
		stored, err := skippable(run, raw, err)
		return nil, nil, stored, err
	}
	return thread, email, true, nil
}

// skippable swallows item errors that must not stop the label. It reports whether the
// message is already stored.
func skippable(run *labelRun, raw *dto.RawMessage, err error) (bool, error) {
	switch {
	case errors.Is(err, mserrors.ErrDuplicateMessage):
		return true, nil
	case errors.Is(err, mserrors.ErrCorruptItem):
		run.log.Warnf("skipping undecodable message %s: %v", raw.ID, err)
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to store message %s", raw.ID)
}

// armCooldown reports whether err was a throttle, arming the gate when it was.
func (s *syncService) armCooldown(ctx context.Context, run *labelRun, err error) bool {
	rl, ok := mserrors.AsRateLimited(err)
	if !ok {
		return false
	}
	seconds := rl.RetryAfterSeconds
	if seconds <= 0 {
		seconds = s.cfg.DefaultRetryAfterSeconds
	}
	s.gate.SetCooldown(ctx, run.account.ID, seconds)
	run.log.Warnf("gmail api throttled, cooling down for %ds", seconds)
	return true
}

func (s *syncService) hasTransient(run *labelRun, itemErrs map[string]error) bool {
	transient := false
	for id, err := range itemErrs {
		if gmail.IsTransient(err) {
			run.log.Warnf("transient failure fetching %s: %v", id, err)
			transient = true
			continue
		}
		run.log.Debugf("skipping %s: %v", id, err)
	}
	return transient
}

// ResetCursor forgets every cursor of the account so the next run is a full sync.
func (s *syncService) ResetCursor(ctx context.Context, accountID string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "SyncService.ResetCursor")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if account == nil {
		return mserrors.ErrAccountNotFound
	}

	if err := s.labelSync.ResetAccount(ctx, accountID); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Infof("sync history of account %s reset", accountID)
	return nil
}

// orderedByTimestamp returns the fetched messages of ids sorted by arrival time, keeping
// the request order for ties.
func orderedByTimestamp(ids []string, raws map[string]*dto.RawMessage) []*dto.RawMessage {
	ordered := make([]*dto.RawMessage, 0, len(raws))
	for _, id := range ids {
		if raw, ok := raws[id]; ok {
			ordered = append(ordered, raw)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].InternalDate < ordered[j].InternalDate
	})
	return ordered
}

type referenceSet struct {
	seen   map[string]struct{}
	events []dto.ThreadUpdated
}

func newReferenceSet() *referenceSet {
	return &referenceSet{seen: make(map[string]struct{})}
}

func (r *referenceSet) add(accountID string, thread *models.EmailThread) {
	key := thread.ReferenceType + "\x00" + thread.ReferenceID
	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.events = append(r.events, dto.ThreadUpdated{
		AccountID:     accountID,
		ThreadID:      thread.ID,
		ReferenceType: thread.ReferenceType,
		ReferenceID:   thread.ReferenceID,
	})
}
