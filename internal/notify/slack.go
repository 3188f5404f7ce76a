package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackSink posts notifications to a single Slack channel via a bot
// token, an optional secondary sink alongside web push (spec.md's
// external-collaborator notes never mention Slack, but the event bus
// makes any transport a Sink; this mirrors Manager's multi-subscriber
// shape for a second delivery channel).
type SlackSink struct {
	api     *slack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackSink constructs a SlackSink posting to channel using token.
func NewSlackSink(token, channel string, logger *slog.Logger) *SlackSink {
	return &SlackSink{api: slack.New(token), channel: channel, logger: logger}
}

// Send renders payload's title/body and posts them as a Slack message.
// Best-effort: failures are logged, never propagated, matching the
// web push Manager's own fire-and-forget Send.
func (s *SlackSink) Send(payload []byte) {
	var msg notificationPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.logger.Debug("slack sink: invalid payload", "err", err)
		return
	}
	text := msg.Title
	if msg.Body != "" {
		text += ": " + msg.Body
	}
	if _, _, err := s.api.PostMessage(s.channel, slack.MsgOptionText(text, false)); err != nil {
		s.logger.Debug("slack send failed", "err", err)
	}
}
