package channels

// ChannelType identifies a provider kind. The set is closed; the manager
// rejects operations on types it has no adapter for.
type ChannelType string

const (
	ChannelWhatsApp          ChannelType = "whatsapp" // unofficial (whatsmeow)
	ChannelWhatsAppOfficial  ChannelType = "whatsapp-official"
	ChannelWhatsAppTwilio    ChannelType = "whatsapp-twilio"
	ChannelWhatsApp360Dialog ChannelType = "whatsapp-360dialog"
	ChannelMessenger         ChannelType = "messenger"
	ChannelInstagram         ChannelType = "instagram"
	ChannelTikTok            ChannelType = "tiktok"
	ChannelEmail             ChannelType = "email"
	ChannelSMS               ChannelType = "sms"
	ChannelWebChat           ChannelType = "webchat"
)

// Reply formats.
const (
	ReplyFormatQuote   = "quote"   // native or synthesized quoted reply
	ReplyFormatMention = "mention" // "@sender" prefix emulation
	ReplyFormatThread  = "thread"  // flat threaded reply, no marker
)

// ChannelCapabilities describes what operations a channel type supports.
// Derived, never persisted.
type ChannelCapabilities struct {
	SupportsReply          bool   `json:"supportsReply"`
	SupportsDelete         bool   `json:"supportsDelete"`
	SupportsQuotedMessages bool   `json:"supportsQuotedMessages"`
	DeleteTimeLimit        int    `json:"deleteTimeLimit,omitempty"` // minutes, 0 = no limit
	ReplyFormat            string `json:"replyFormat"`
}

// whatsAppDeleteWindowMinutes is the coarse delete gate for unofficial
// WhatsApp (72 hours). The adapter enforces the tighter protocol limit on
// top of this; both values are intentional.
const whatsAppDeleteWindowMinutes = 4320

// Capabilities returns the capability descriptor for a channel type. Pure
// and total: unknown types get the fully-disabled fallback.
func Capabilities(channelType string) ChannelCapabilities {
	switch ChannelType(channelType) {
	case ChannelWhatsApp:
		// Unofficial WhatsApp revokes messages natively and quotes natively.
		return ChannelCapabilities{
			SupportsReply:          true,
			SupportsDelete:         true,
			SupportsQuotedMessages: true,
			DeleteTimeLimit:        whatsAppDeleteWindowMinutes,
			ReplyFormat:            ReplyFormatQuote,
		}
	case ChannelWhatsAppOfficial, ChannelWhatsAppTwilio, ChannelWhatsApp360Dialog:
		// Cloud/BSP APIs cannot delete; quotes are synthesized by copying a
		// truncated excerpt into the body.
		return ChannelCapabilities{
			SupportsReply:          true,
			SupportsQuotedMessages: true,
			ReplyFormat:            ReplyFormatQuote,
		}
	case ChannelMessenger, ChannelInstagram, ChannelTikTok:
		return ChannelCapabilities{
			SupportsReply: true,
			ReplyFormat:   ReplyFormatMention,
		}
	case ChannelEmail:
		// Native threading via In-Reply-To/References headers.
		return ChannelCapabilities{
			SupportsReply: true,
			ReplyFormat:   ReplyFormatThread,
		}
	case ChannelSMS:
		return ChannelCapabilities{
			SupportsReply: true,
			ReplyFormat:   ReplyFormatThread,
		}
	case ChannelWebChat:
		// Webchat messages live only in our store, so deletion is a
		// local-only operation with no provider call and no time limit.
		return ChannelCapabilities{
			SupportsReply:  true,
			SupportsDelete: true,
			ReplyFormat:    ReplyFormatThread,
		}
	default:
		return ChannelCapabilities{ReplyFormat: ReplyFormatMention}
	}
}
