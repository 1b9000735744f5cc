package threads

import (
	"context"
	"strings"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
)

type reference struct {
	refType string
	refID   string
}

type threadService struct {
	log      logger.Logger
	threads  interfaces.EmailThreadRepository
	notifier interfaces.Notifier
}

func NewThreadService(log logger.Logger, threads interfaces.EmailThreadRepository, notifier interfaces.Notifier) interfaces.ThreadService {
	return &threadService{log: log, threads: threads, notifier: notifier}
}

// Link attaches the thread to an external document. Watchers of the previous document
// and of the new one are both notified.
func (s *threadService) Link(ctx context.Context, threadID, referenceType, referenceID string) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ThreadService.Link")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, threadID)
	span.LogKV("referenceType", referenceType, "referenceId", referenceID)

	if strings.TrimSpace(referenceType) == "" || strings.TrimSpace(referenceID) == "" {
		tracing.TraceErr(span, mserrors.ErrReferenceRequired)
		return nil, mserrors.ErrReferenceRequired
	}
	return s.setReference(ctx, span, threadID, referenceType, referenceID)
}

func (s *threadService) Unlink(ctx context.Context, threadID string) (*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ThreadService.Unlink")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, threadID)

	return s.setReference(ctx, span, threadID, "", "")
}

func (s *threadService) setReference(ctx context.Context, span opentracing.Span, threadID, referenceType, referenceID string) (*models.EmailThread, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	if thread == nil {
		return nil, mserrors.ErrThreadNotFound
	}

	previous := reference{thread.ReferenceType, thread.ReferenceID}
	thread.SetReference(referenceType, referenceID)
	current := reference{thread.ReferenceType, thread.ReferenceID}
	if previous == current {
		span.LogKV("result", "unchanged")
		return thread, nil
	}

	if err := s.threads.Update(ctx, thread); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to update thread reference")
	}

	for _, ref := range []reference{previous, current} {
		if ref.refType == "" || ref.refID == "" {
			continue
		}
		err := s.notifier.ThreadUpdated(ctx, dto.ThreadUpdated{
			AccountID:     thread.AccountID,
			ThreadID:      thread.ID,
			ReferenceType: ref.refType,
			ReferenceID:   ref.refID,
		})
		if err != nil {
			s.log.Warnf("Failed to notify %s/%s about thread %s: %v", ref.refType, ref.refID, thread.ID, err)
		}
	}
	return thread, nil
}

func (s *threadService) ListByReference(ctx context.Context, referenceType, referenceID string) ([]*models.EmailThread, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ThreadService.ListByReference")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.LogKV("referenceType", referenceType, "referenceId", referenceID)

	if referenceType == "" || referenceID == "" {
		return nil, mserrors.ErrReferenceRequired
	}

	threads, err := s.threads.ListByReference(ctx, referenceType, referenceID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	return threads, nil
}
