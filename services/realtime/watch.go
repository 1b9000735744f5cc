package realtime

import (
	"context"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

type watchService struct {
	log      logger.Logger
	accounts interfaces.GmailAccountRepository
	factory  interfaces.MailboxAPIFactory
	topic    string
}

func NewWatchService(log logger.Logger, gmailConfig *config.GmailConfig, accounts interfaces.GmailAccountRepository, factory interfaces.MailboxAPIFactory) interfaces.WatchService {
	return &watchService{
		log:      log,
		accounts: accounts,
		factory:  factory,
		topic:    gmailConfig.PubSubTopic,
	}
}

// ShouldWatch is the single rule for push registration: sync and realtime enabled, a
// topic configured, at least one enabled label and a refresh credential.
func ShouldWatch(account *models.GmailAccount, topic string) bool {
	return account != nil &&
		account.SyncEnabled &&
		account.RealtimeSync &&
		topic != "" &&
		len(account.EnabledLabels()) > 0 &&
		account.HasCredential()
}

// WatchLabelIDs returns the enabled label ids plus SENT, without duplicates.
func WatchLabelIDs(account *models.GmailAccount) []string {
	ids := make([]string, 0, len(account.Labels)+1)
	for _, label := range account.EnabledLabels() {
		ids = append(ids, label.RemoteID)
	}
	ids = append(ids, enum.GmailLabelSent)
	return utils.UniqueStrings(ids)
}

func (s *watchService) Apply(ctx context.Context, account *models.GmailAccount) error {
	if ShouldWatch(account, s.topic) {
		return s.Enable(ctx, account)
	}
	return s.Disable(ctx, account)
}

func (s *watchService) Enable(ctx context.Context, account *models.GmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatchService.Enable")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if s.topic == "" {
		return mserrors.ErrMissingConfiguration
	}

	api, err := s.factory.ForAccount(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	labelIDs := WatchLabelIDs(account)
	span.LogKV("labelIds", labelIDs)

	response, err := api.Watch(ctx, s.topic, labelIDs)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "failed to register watch")
	}

	expiresAt := response.Expiration
	if err := s.accounts.UpdateWatchExpiry(ctx, account.ID, &expiresAt); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account.WatchExpiresAt = &expiresAt

	s.log.Infof("Realtime sync enabled for %s until %s", account.EmailAddress, expiresAt.Format(time.RFC3339))
	return nil
}

// Disable stops push delivery for the account. Without a credential the remote watch
// cannot be stopped; it lapses on its own and only the stored expiry is cleared.
func (s *watchService) Disable(ctx context.Context, account *models.GmailAccount) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatchService.Disable")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	if account.HasCredential() {
		api, err := s.factory.ForAccount(ctx, account)
		if err != nil {
			tracing.TraceErr(span, err)
			return err
		}
		if err := api.Stop(ctx); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrap(err, "failed to stop watch")
		}
	}

	if err := s.accounts.UpdateWatchExpiry(ctx, account.ID, nil); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	account.WatchExpiresAt = nil

	s.log.Infof("Realtime sync disabled for %s", account.EmailAddress)
	return nil
}

// RenewAll re-registers the watch of every realtime account. Watches expire upstream
// after about a week, so this runs on a schedule.
func (s *watchService) RenewAll(ctx context.Context) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "WatchService.RenewAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	accounts, err := s.accounts.ListRealtime(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	failed := 0
	for _, account := range accounts {
		if err := s.Apply(ctx, account); err != nil {
			failed++
			s.log.Errorf("Failed to renew watch for %s: %v", account.ID, err)
		}
	}
	span.LogKV("accounts", len(accounts), "failed", failed)

	if failed > 0 {
		return errors.Errorf("watch renewal failed for %d of %d accounts", failed, len(accounts))
	}
	return nil
}
