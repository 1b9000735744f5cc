package labels

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/enum"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

type labelService struct {
	log      logger.Logger
	accounts interfaces.GmailAccountRepository
	labels   interfaces.GmailLabelRepository
	factory  interfaces.MailboxAPIFactory
}

func NewLabelService(log logger.Logger, accounts interfaces.GmailAccountRepository, labels interfaces.GmailLabelRepository, factory interfaces.MailboxAPIFactory) interfaces.LabelService {
	return &labelService{
		log:      log,
		accounts: accounts,
		labels:   labels,
		factory:  factory,
	}
}

// SyncLabels copies the remote label list into the account. New labels arrive disabled
// so nothing is scanned until the owner opts in; drafts are never offered.
func (s *labelService) SyncLabels(ctx context.Context, accountID string) ([]*models.GmailLabel, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "LabelService.SyncLabels")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, accountID)

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if account == nil {
		return nil, mserrors.ErrAccountNotFound
	}

	api, err := s.factory.ForAccount(ctx, account)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	remote, err := api.ListLabels(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to list remote labels")
	}

	existing, err := s.labels.ListByAccount(ctx, accountID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, label := range existing {
		known[label.RemoteID] = struct{}{}
	}

	created := 0
	for _, label := range remote {
		if label.ID == "" || label.ID == enum.GmailLabelDraft {
			continue
		}
		if _, ok := known[label.ID]; ok {
			continue
		}
		err := s.labels.Create(ctx, &models.GmailLabel{
			AccountID: accountID,
			RemoteID:  label.ID,
			Name:      label.Name,
			Enabled:   false,
		})
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, errors.Wrapf(err, "failed to store label %s", label.ID)
		}
		known[label.ID] = struct{}{}
		created++
	}
	span.LogKV("remote", len(remote), "created", created)
	if created > 0 {
		s.log.Infof("Added %d labels for account %s", created, accountID)
	}

	return s.labels.ListByAccount(ctx, accountID)
}
