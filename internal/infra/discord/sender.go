package discord

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"

	"github.com/osa030/encore/internal/app/notification"
)

var _ notification.Sender = (*Bot)(nil)

// Send posts content to channelID and returns the new message ID.
func (b *Bot) Send(ctx context.Context, channelID snowflake.ID, content string) (snowflake.ID, error) {
	msg, err := b.client.Rest.CreateMessage(channelID,
		discord.NewMessageCreate().WithContent(content),
		rest.WithCtx(ctx),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create message in channel %s", channelID)
	}
	return msg.ID, nil
}

// Delete removes a message.
func (b *Bot) Delete(ctx context.Context, channelID, messageID snowflake.ID) error {
	if err := b.client.Rest.DeleteMessage(channelID, messageID, rest.WithCtx(ctx)); err != nil {
		return errors.Wrapf(err, "failed to delete message %s", messageID)
	}
	return nil
}
