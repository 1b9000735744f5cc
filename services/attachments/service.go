package attachments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const storageServiceName = "s3" // R2 and S3 share the S3 api

// DownloadPath is the API route serving an attachment whose bucket is not public.
const DownloadPath = "/v1/attachments/"

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_", "%", "_")

type attachmentService struct {
	log     logger.Logger
	storage interfaces.StorageService
	repo    interfaces.EmailAttachmentRepository
	bucket  string
}

// NewAttachmentService stores attachment content in storage. With a nil storage only the
// metadata rows are kept.
func NewAttachmentService(log logger.Logger, storage interfaces.StorageService, repo interfaces.EmailAttachmentRepository, bucket string) interfaces.AttachmentService {
	return &attachmentService{
		log:     log,
		storage: storage,
		repo:    repo,
		bucket:  bucket,
	}
}

func StorageKey(accountID, threadID, emailID, fileName string) string {
	return fmt.Sprintf("gmail/%s/%s/%s/%s", accountID, threadID, emailID, fileNameReplacer.Replace(fileName))
}

func (s *attachmentService) Materialize(ctx context.Context, thread *models.EmailThread, email *models.Email, attachments []interfaces.ParsedAttachment) ([]*models.EmailAttachment, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentService.Materialize")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("email_id", email.ID)
	span.SetTag("count", len(attachments))

	records := make([]*models.EmailAttachment, 0, len(attachments))
	inlineURLs := make(map[string]string)

	for _, attachment := range attachments {
		sum := sha256.Sum256(attachment.Content)
		record := &models.EmailAttachment{
			ID:          utils.GenerateNanoIDWithPrefix("file", 12),
			AccountID:   email.AccountID,
			Emails:      pq.StringArray{email.ID},
			Threads:     pq.StringArray{thread.ID},
			Filename:    attachment.FileName,
			ContentType: attachment.ContentType,
			ContentID:   attachment.ContentID,
			Size:        len(attachment.Content),
			IsInline:    attachment.Inline,
			ContentHash: hex.EncodeToString(sum[:]),
		}

		if s.storage != nil {
			key := StorageKey(email.AccountID, thread.ID, email.ID, attachment.FileName)
			if err := s.storage.Upload(ctx, key, attachment.Content, attachment.ContentType); err != nil {
				tracing.TraceErr(span, err)
				return nil, errors.Wrapf(err, "failed to upload attachment %s", attachment.FileName)
			}
			record.StorageService = storageServiceName
			record.StorageBucket = s.bucket
			record.StorageKey = key

			if attachment.ContentID != "" {
				url := s.storage.GetPublicURL(key)
				if url == "" {
					url = DownloadPath + record.ID
				}
				inlineURLs[attachment.ContentID] = url
			}
		}

		records = append(records, record)
	}

	if len(inlineURLs) > 0 && email.BodyHTML != "" {
		email.BodyHTML = RewriteInlineSources(email.BodyHTML, inlineURLs)
	}

	return records, nil
}

func (s *attachmentService) Record(ctx context.Context, attachments []*models.EmailAttachment) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "AttachmentService.Record")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	for _, attachment := range attachments {
		if err := s.repo.Create(ctx, attachment); err != nil {
			tracing.TraceErr(span, err)
			return errors.Wrapf(err, "failed to record attachment %s", attachment.ID)
		}
	}
	return nil
}

// RewriteInlineSources points cid: image sources at their stored copies. Unknown content
// ids are left alone, and so is the whole body when it cannot be parsed.
func RewriteInlineSources(body string, urls map[string]string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	rewritten := 0
	doc.Find(`[src^="cid:"]`).Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		cid := utils.NormalizeMessageID(strings.TrimPrefix(src, "cid:"))
		if url, ok := urls[cid]; ok {
			sel.SetAttr("src", url)
			rewritten++
		}
	})
	if rewritten == 0 {
		return body
	}

	var out string
	if strings.Contains(strings.ToLower(body), "<html") {
		out, err = doc.Html()
	} else {
		out, err = doc.Find("body").Html()
	}
	if err != nil {
		return body
	}
	return out
}
