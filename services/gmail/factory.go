package gmail

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/interfaces"
	mserrors "github.com/customeros/mailsync/internal/errors"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/models"
)

type clientFactory struct {
	oauthConfig       *oauth2.Config
	breaker           *gobreaker.CircuitBreaker
	requestsPerSecond float64
	defaultRetryAfter int
	log               logger.Logger
}

// NewClientFactory builds per-account Gmail clients. All clients share one circuit breaker
// so a Google side outage stops every account quickly; pacing is per account.
func NewClientFactory(gmailConfig *config.GmailConfig, syncConfig *config.SyncConfig, log logger.Logger) interfaces.MailboxAPIFactory {
	f := &clientFactory{
		requestsPerSecond: gmailConfig.RequestsPerSecond,
		defaultRetryAfter: syncConfig.DefaultRetryAfterSeconds,
		log:               log,
	}
	if gmailConfig.ClientID != "" && gmailConfig.ClientSecret != "" {
		f.oauthConfig = &oauth2.Config{
			ClientID:     gmailConfig.ClientID,
			ClientSecret: gmailConfig.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		}
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isServerError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("Circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
	})
	return f
}

func (f *clientFactory) ForAccount(ctx context.Context, account *models.GmailAccount) (interfaces.MailboxAPI, error) {
	if f.oauthConfig == nil {
		return nil, mserrors.ErrMissingConfiguration
	}
	if account == nil {
		return nil, mserrors.ErrAccountNotFound
	}
	if !account.HasCredential() {
		return nil, mserrors.ErrMissingCredential
	}

	tokenSource := f.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: account.RefreshToken})
	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, classifyError(err, f.defaultRetryAfter, "create gmail service")
	}

	limit := rate.Inf
	burst := 1
	if f.requestsPerSecond > 0 {
		limit = rate.Limit(f.requestsPerSecond)
		burst = int(f.requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return newClient(account.ID, service, f.breaker, rate.NewLimiter(limit, burst), f.defaultRetryAfter), nil
}
