package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsApp sends messages over the Twilio messaging API. Addresses use
// the "whatsapp:+5511999999999" form Twilio expects.
type TwilioWhatsApp struct {
	client *twilio.RestClient
}

func NewTwilioWhatsApp(accountSID, authToken string) *TwilioWhatsApp {
	return &TwilioWhatsApp{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
	}
}

func (t *TwilioWhatsApp) Send(ctx context.Context, from, to, body string) error {
	if from == "" || to == "" {
		return fmt.Errorf("twilio: from and to addresses required")
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: send message: %w", err)
	}
	return nil
}
