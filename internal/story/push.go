package story

import "encoding/json"

// 推送载荷缺失或无法解析时使用的兜底文案与图标。
const (
	DefaultPushTitle = "Notifikasi Baru dari Story App"
	DefaultPushBody  = "Ada cerita baru yang menarik untukmu!"
	DefaultPushIcon  = "/icons/icon-192x192.png"
)

// PushOptions 对应推送展示参数。
type PushOptions struct {
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
}

// PushMessage 是源站推送的结构化载荷。
type PushMessage struct {
	Title   string      `json:"title"`
	Options PushOptions `json:"options"`
}

// ParsePushMessage 解析推送载荷；载荷为空或非法时逐字段回退到默认值，
// 保证任何输入都能得到一条可展示的通知。
func ParsePushMessage(payload []byte) PushMessage {
	var msg PushMessage
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msg); err != nil {
			msg = PushMessage{}
		}
	}

	if msg.Title == "" {
		msg.Title = DefaultPushTitle
	}
	if msg.Options.Body == "" {
		msg.Options.Body = DefaultPushBody
	}
	if msg.Options.Icon == "" {
		msg.Options.Icon = DefaultPushIcon
	}
	if msg.Options.Badge == "" {
		msg.Options.Badge = DefaultPushIcon
	}
	return msg
}
