package reconciler

import (
	"bytes"
	"net/mail"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/jhillyerd/enmime"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/models"
	"github.com/customeros/mailsync/internal/utils"
)

// parseRaw decodes a raw RFC 822 message into an unsaved Email and the parts that are
// only needed while the email is being threaded.
func parseRaw(raw *dto.RawMessage, accountID string) (*models.Email, *interfaces.ParsedMessage, error) {
	if raw == nil || len(raw.Raw) == 0 {
		return nil, nil, mserrors.ErrCorruptItem
	}

	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw.Raw))
	if err != nil {
		return nil, nil, errors.Wrapf(mserrors.ErrCorruptItem, "message %s: %v", raw.ID, err)
	}

	messageID := utils.NormalizeMessageID(envelope.GetHeader("Message-ID"))
	if messageID == "" {
		messageID = utils.FallbackMessageID(raw.ID)
	}

	inReplyTo := utils.ParseReferences(envelope.GetHeader("In-Reply-To"))
	references := utils.ParseReferences(envelope.GetHeader("References"))
	for _, id := range inReplyTo {
		if !utils.IsStringInSlice(id, references) {
			references = append(references, id)
		}
	}

	subject := strings.TrimSpace(envelope.GetHeader("Subject"))

	email := &models.Email{
		AccountID:       accountID,
		RemoteMessageID: raw.ID,
		RemoteThreadID:  raw.ThreadID,
		MessageID:       messageID,
		References:      pq.StringArray(references),
		HistoryID:       raw.HistoryID,
		LabelIDs:        pq.StringArray(raw.LabelIDs),
		Subject:         subject,
		ReceivedAt:      raw.ReceivedAt(),
		BodyText:        plainContent(StripQuotedText(plainPart(envelope)), StripQuotedHTML(envelope.HTML)),
		BodyHTML:        StripQuotedHTML(envelope.HTML),
		RawHeaders:      headerMap(envelope),
	}
	if len(inReplyTo) > 0 {
		email.InReplyTo = inReplyTo[0]
	}

	if sentAt, err := mail.ParseDate(envelope.GetHeader("Date")); err == nil {
		sentAt = sentAt.UTC()
		email.SentAt = &sentAt
	} else if email.ReceivedAt != nil {
		email.SentAt = email.ReceivedAt
	}

	if from := addressList(envelope, "From"); len(from) > 0 {
		email.FromAddress = from[0].address
		email.FromName = from[0].name
	}
	email.ToAddresses = cleanAddresses(addressList(envelope, "To"))
	email.CcAddresses = cleanAddresses(addressList(envelope, "Cc"))
	email.BccAddresses = cleanAddresses(addressList(envelope, "Bcc"))

	parsed := &interfaces.ParsedMessage{
		Subject:    subject,
		MessageID:  messageID,
		References: references,
	}
	for _, part := range envelope.Attachments {
		parsed.Attachments = append(parsed.Attachments, toParsedAttachment(part, false, len(parsed.Attachments)))
	}
	for _, part := range envelope.Inlines {
		parsed.Attachments = append(parsed.Attachments, toParsedAttachment(part, true, len(parsed.Attachments)))
	}
	email.HasAttachment = len(parsed.Attachments) > 0

	return email, parsed, nil
}

// plainPart is the message's own text part. enmime fills Text from the HTML when there
// is none, and that copy still carries the quoted reply.
func plainPart(envelope *enmime.Envelope) string {
	if envelope.Root == nil {
		return envelope.Text
	}
	textPart := envelope.Root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return strings.HasPrefix(strings.ToLower(p.ContentType), "text/plain") && p.Disposition != "attachment"
	})
	if textPart == nil {
		return ""
	}
	return envelope.Text
}

type address struct {
	name    string
	address string
}

// addressList returns the syntactically valid addresses of a header, cleaned by
// mailvalidate. Unparseable headers yield nothing.
func addressList(envelope *enmime.Envelope, header string) []address {
	list, err := envelope.AddressList(header)
	if err != nil {
		return nil
	}
	result := make([]address, 0, len(list))
	for _, addr := range list {
		if addr == nil {
			continue
		}
		validation := mailvalidate.ValidateEmailSyntax(addr.Address)
		if !validation.IsValid {
			continue
		}
		result = append(result, address{name: addr.Name, address: strings.ToLower(validation.CleanEmail)})
	}
	return result
}

func cleanAddresses(list []address) pq.StringArray {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.address)
	}
	return pq.StringArray(utils.UniqueEmails(out))
}

func headerMap(envelope *enmime.Envelope) models.JSONMap {
	headers := make(models.JSONMap)
	for _, key := range envelope.GetHeaderKeys() {
		if values := envelope.GetHeaderValues(key); len(values) > 0 {
			headers[key] = values
		}
	}
	return headers
}

func toParsedAttachment(part *enmime.Part, inline bool, index int) interfaces.ParsedAttachment {
	return interfaces.ParsedAttachment{
		FileName:    utils.AttachmentFileName(part.FileName, part.ContentType, index),
		ContentType: part.ContentType,
		ContentID:   utils.NormalizeMessageID(part.ContentID),
		Inline:      inline,
		Content:     part.Content,
	}
}
