package telephony

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallControl is the out-of-band control channel for an active call,
// separate from the media socket. The orchestrator uses it exactly once
// per call, after the final spoken turn has played out.
type CallControl interface {
	// EndCall asks the provider to complete (hang up) the call.
	EndCall(ctx context.Context, callSid string) error
}

// TwilioCallControl ends calls through the Twilio REST API.
type TwilioCallControl struct {
	client *twilioapi.ApiService
}

var _ CallControl = (*TwilioCallControl)(nil)

// NewTwilioCallControl builds a CallControl from account credentials.
func NewTwilioCallControl(accountSid, authToken string) *TwilioCallControl {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return &TwilioCallControl{client: rest.Api}
}

// EndCall transitions the call to the completed status, which hangs it up.
func (c *TwilioCallControl) EndCall(ctx context.Context, callSid string) error {
	params := &twilioapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.client.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("telephony: end call %s: %w", callSid, err)
	}
	return nil
}
