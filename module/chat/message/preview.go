package message

import "DuoChat/module/chat/model"

// PreviewOf derives the conversation-list preview line for a message. Text
// wins over media; voice notes get their own label even though they ride
// the audio type.
func PreviewOf(msg *model.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if msg.Media == nil {
		return ""
	}
	if msg.Media.IsVoice {
		return "🎤 Voice message"
	}
	switch msg.Media.Type {
	case "image":
		return "📷 Photo"
	case "video":
		return "🎥 Video"
	case "audio":
		return "🎵 Audio"
	case "document", "file":
		return "📄 Document"
	default:
		return "📎 Attachment"
	}
}
