package gmail

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/customeros/mailsync/dto"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/tracing"
	"github.com/customeros/mailsync/internal/utils"
)

const (
	DefaultBatchSize   = 50
	DefaultParallelism = 8
)

// batchClient fans single-item gets out over a bounded number of goroutines, in chunks
// of batchSize. One throttled item fails the whole call.
type batchClient struct {
	api         interfaces.MailboxAPI
	batchSize   int
	parallelism int
}

func NewBatchClient(api interfaces.MailboxAPI, batchSize, parallelism int) interfaces.BatchClient {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &batchClient{api: api, batchSize: batchSize, parallelism: parallelism}
}

func (b *batchClient) FetchThreadsByIDs(ctx context.Context, ids []string) (map[string]*dto.ThreadPayload, map[string]error, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "BatchClient.FetchThreadsByIDs")
	defer span.Finish()
	tracing.TagComponentGmailClient(span)
	span.SetTag("count", len(ids))

	results, itemErrs, err := fetchAll(ctx, b, ids, b.api.GetThread)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return results, itemErrs, err
}

func (b *batchClient) FetchMessagesRaw(ctx context.Context, ids []string) (map[string]*dto.RawMessage, map[string]error, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "BatchClient.FetchMessagesRaw")
	defer span.Finish()
	tracing.TagComponentGmailClient(span)
	span.SetTag("count", len(ids))

	results, itemErrs, err := fetchAll(ctx, b, ids, b.api.GetRawMessage)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return results, itemErrs, err
}

func fetchAll[T any](ctx context.Context, b *batchClient, ids []string, get func(context.Context, string) (*T, error)) (map[string]*T, map[string]error, error) {
	results := make(map[string]*T, len(ids))
	itemErrs := make(map[string]error)
	ids = utils.UniqueStrings(ids)

	transportFailures := 0
	var firstTransportErr error

	for _, chunk := range utils.Chunk(ids, b.batchSize) {
		chunkResults, chunkErrs, err := fetchChunk(ctx, b.parallelism, chunk, get)
		if err != nil {
			return nil, nil, err
		}
		for id, result := range chunkResults {
			results[id] = result
		}
		for id, itemErr := range chunkErrs {
			itemErrs[id] = itemErr
			if isTransport(itemErr) {
				transportFailures++
				if firstTransportErr == nil {
					firstTransportErr = itemErr
				}
			}
		}
	}

	if len(ids) > 0 && transportFailures == len(ids) {
		return nil, nil, firstTransportErr
	}
	return results, itemErrs, nil
}

func fetchChunk[T any](ctx context.Context, parallelism int, ids []string, get func(context.Context, string) (*T, error)) (map[string]*T, map[string]error, error) {
	var mu sync.Mutex
	results := make(map[string]*T, len(ids))
	itemErrs := make(map[string]error)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			result, err := get(gctx, id)
			if err != nil {
				if _, ok := mserrors.AsRateLimited(err); ok {
					return err
				}
				if errors.Is(err, mserrors.ErrCircuitOpen) || mserrors.IsAccountLevel(err) {
					return err
				}
				mu.Lock()
				itemErrs[id] = err
				mu.Unlock()
				return nil
			}
			if result == nil {
				mu.Lock()
				itemErrs[id] = errors.Wrap(mserrors.ErrItemNotFound, id)
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[id] = result
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, itemErrs, nil
}

// isTransport reports a per-item failure that is neither "gone" nor "undecodable".
func isTransport(err error) bool {
	return !errors.Is(err, mserrors.ErrItemNotFound) && !errors.Is(err, mserrors.ErrCorruptItem)
}

// IsTransient reports whether a per-item error may succeed on a later run.
func IsTransient(err error) bool {
	return err != nil && isTransport(err)
}
