package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesUnofficialWhatsApp(t *testing.T) {
	caps := Capabilities(string(ChannelWhatsApp))

	assert.True(t, caps.SupportsReply)
	assert.True(t, caps.SupportsDelete)
	assert.True(t, caps.SupportsQuotedMessages)
	assert.Equal(t, whatsAppDeleteWindowMinutes, caps.DeleteTimeLimit)
	assert.Equal(t, ReplyFormatQuote, caps.ReplyFormat)
}

func TestCapabilitiesCloudVariantsCannotDelete(t *testing.T) {
	for _, ct := range []ChannelType{ChannelWhatsAppOfficial, ChannelWhatsAppTwilio, ChannelWhatsApp360Dialog} {
		caps := Capabilities(string(ct))
		assert.True(t, caps.SupportsReply, ct)
		assert.False(t, caps.SupportsDelete, ct)
		assert.True(t, caps.SupportsQuotedMessages, ct)
		assert.Equal(t, ReplyFormatQuote, caps.ReplyFormat, ct)
	}
}

func TestCapabilitiesSocialChannelsUseMentions(t *testing.T) {
	for _, ct := range []ChannelType{ChannelMessenger, ChannelInstagram, ChannelTikTok} {
		caps := Capabilities(string(ct))
		assert.True(t, caps.SupportsReply, ct)
		assert.False(t, caps.SupportsDelete, ct)
		assert.False(t, caps.SupportsQuotedMessages, ct)
		assert.Equal(t, ReplyFormatMention, caps.ReplyFormat, ct)
	}
}

func TestCapabilitiesWebChatLocalDelete(t *testing.T) {
	caps := Capabilities(string(ChannelWebChat))

	assert.True(t, caps.SupportsDelete)
	assert.Zero(t, caps.DeleteTimeLimit)
	assert.Equal(t, ReplyFormatThread, caps.ReplyFormat)
}

func TestCapabilitiesUnknownTypeFallback(t *testing.T) {
	caps := Capabilities("carrier-pigeon")

	assert.False(t, caps.SupportsReply)
	assert.False(t, caps.SupportsDelete)
	assert.False(t, caps.SupportsQuotedMessages)
	assert.Zero(t, caps.DeleteTimeLimit)
	assert.Equal(t, ReplyFormatMention, caps.ReplyFormat)
}

func TestQuoteExcerptTruncation(t *testing.T) {
	long := "0123456789012345678901234567890123456789012345678901234567890"
	out := quoteExcerpt(long, "reply")

	assert.Equal(t, "> "+long[:50]+"...\n\nreply", out)
	assert.Equal(t, "reply", quoteExcerpt("", "reply"))
}

func TestMentionPrefix(t *testing.T) {
	assert.Equal(t, "@joao hello", mentionPrefix("joao", "hello"))
	assert.Equal(t, "hello", mentionPrefix("", "hello"))
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "5511999990000", digitsOnly("whatsapp:+55 11 99999-0000"))
	assert.Equal(t, "", digitsOnly("no digits here"))
}
