package controller

// NoticeLevel 区分提示的严重程度，均为非致命的用户可见信息。
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice 是面向用户的提示信息，由协调层生成、视图层渲染。
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

func infoNotice(message string) *Notice {
	return &Notice{Level: NoticeInfo, Message: message}
}

func successNotice(message string) *Notice {
	return &Notice{Level: NoticeSuccess, Message: message}
}

func errorNotice(message string) *Notice {
	return &Notice{Level: NoticeError, Message: message}
}
