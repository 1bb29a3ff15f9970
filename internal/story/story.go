package story

import "time"

// Story 是应用的核心领域实体，字段命名与故事 API 的响应保持一致。
// ID 由源站分配，是唯一的持久化主键。
type Story struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PhotoURL    string    `json:"photoUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	Lat         *float64  `json:"lat,omitempty"`
	Lon         *float64  `json:"lon,omitempty"`
}

// Location 表示用户为新故事挑选的坐标。
type Location struct {
	Lat float64
	Lon float64
}

// SubscriptionKeys 对应推送订阅的加密密钥对。
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription 描述设备在推送平台上的注册信息，发往源站时按本结构序列化。
type Subscription struct {
	Endpoint string           `json:"endpoint"`
	Keys     SubscriptionKeys `json:"keys"`
}

// AuthContext 持有登录态，由协调层拥有，API 客户端与推送管理器以引用读取。
type AuthContext struct {
	Token  string
	Name   string
	UserID string
}

// LoggedIn 表示当前是否存在有效登录态。
func (a *AuthContext) LoggedIn() bool {
	return a != nil && a.Token != ""
}

// Set 写入登录结果。
func (a *AuthContext) Set(token, name, userID string) {
	a.Token = token
	a.Name = name
	a.UserID = userID
}

// Clear 清空登录态。
func (a *AuthContext) Clear() {
	a.Token = ""
	a.Name = ""
	a.UserID = ""
}
