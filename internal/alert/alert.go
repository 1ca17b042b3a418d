// Package alert delivers operational alerts (routing failures that need a
// human) to a Slack channel. Contacts never see these.
package alert

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	slackapi "github.com/slack-go/slack"
)

// Alerter delivers one operational alert.
type Alerter interface {
	Alert(ctx context.Context, summary string, fields map[string]string) error
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts to a fixed channel.
type Slack struct {
	client  slackClient
	channel string
	log     *logrus.Entry
}

// NewSlack creates a Slack alerter from a bot token and channel id.
func NewSlack(token, channel string, log *logrus.Entry) *Slack {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Slack{client: slackapi.New(token), channel: channel, log: log}
}

// Alert posts the summary with one attachment field per key.
func (s *Slack) Alert(ctx context.Context, summary string, fields map[string]string) error {
	attachment := slackapi.Attachment{Color: "danger"}
	for k, v := range fields {
		attachment.Fields = append(attachment.Fields, slackapi.AttachmentField{
			Title: k, Value: v, Short: true,
		})
	}
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slackapi.MsgOptionText(summary, false),
		slackapi.MsgOptionAttachments(attachment),
	)
	if err != nil {
		return fmt.Errorf("alert: post to %s: %w", s.channel, err)
	}
	s.log.WithField("summary", summary).Debug("alert posted")
	return nil
}

// Nop swallows alerts; used when Slack is not configured and in tests.
type Nop struct{}

func (Nop) Alert(context.Context, string, map[string]string) error { return nil }
