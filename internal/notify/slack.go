package notify

import (
	"context"
	"errors"
	"net/http"

	"github.com/slack-go/slack"

	"sre-platform/internal/models"
)

// SlackSender posts to an incoming webhook (config "webhook_url") or,
// with a bot token, to config "channel".
type SlackSender struct {
	token   string
	client  *http.Client
	options []slack.Option
}

func NewSlackSender(token string, client *http.Client, options ...slack.Option) *SlackSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackSender{token: token, client: client, options: options}
}

func (s *SlackSender) Type() models.ChannelType { return models.ChannelSlack }

func (s *SlackSender) Send(ctx context.Context, ch models.Channel, msg Message) (int, error) {
	attachment := slack.Attachment{
		Color:      msg.color(),
		Title:      msg.Subject,
		Text:       msg.Body,
		MarkdownIn: []string{"text"},
		Footer:     "SRE Platform",
	}

	if url := ch.ConfigString("webhook_url"); url != "" {
		err := slack.PostWebhookCustomHTTPContext(ctx, url, s.client, &slack.WebhookMessage{
			Text:        msg.Subject,
			Attachments: []slack.Attachment{attachment},
		})
		return slackCode(err), err
	}

	token := ch.ConfigString("token")
	if token == "" {
		token = s.token
	}
	channel := ch.ConfigString("channel")
	if token == "" || channel == "" {
		return 0, misconfigured(ch, "slack needs webhook_url, or a token and channel")
	}
	opts := append([]slack.Option{slack.OptionHTTPClient(s.client)}, s.options...)
	_, _, err := slack.New(token, opts...).PostMessageContext(ctx, channel,
		slack.MsgOptionText(msg.Subject, false),
		slack.MsgOptionAttachments(attachment),
	)
	return slackCode(err), err
}

func slackCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se slack.StatusCodeError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
