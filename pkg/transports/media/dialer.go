package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/calluna-ai/calluna/pkg/resilience"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// TwilioDialer places outbound calls through the Twilio REST API. The
// transfer arbiter uses it to bridge a caller to a human agent. Transient
// REST failures are retried; a lost transfer strands the caller.
type TwilioDialer struct {
	AccountSID string
	AuthToken  string
	Retry      resilience.RetryPolicy
	client     callCreator
}

func NewTwilioDialer(accountSID, authToken string) *TwilioDialer {
	return &TwilioDialer{
		AccountSID: accountSID,
		AuthToken:  authToken,
		Retry:      resilience.NewRetryPolicy(2, 500*time.Millisecond),
	}
}

func (d *TwilioDialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	_ = ctx
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.AccountSID == "" || d.AuthToken == "" {
		return "", errors.New("missing twilio credentials")
	}
	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.AccountSID,
			Password: d.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	var resp *api.ApiV2010Call
	err := d.Retry.Do(func() error {
		var callErr error
		resp, callErr = client.CreateCall(params)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("missing call sid")
	}
	return *resp.Sid, nil
}
