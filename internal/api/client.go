package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/story-sync/story-sync/internal/story"
)

// emptyListMessage 是故事 API 在集合为空时返回的 error 文案，
// 语义上等同于成功 + 空列表，不按错误处理。
const emptyListMessage = "Stories not found"

// Client 是故事 API 的轻量封装。所有响应在此边界被归一化为
// 成功载荷 / *ServerError / *TransportError 三种形态。
type Client struct {
	http    *http.Client
	baseURL string
	auth    *story.AuthContext
}

// NewClient 创建 API 客户端；auth 由协调层持有，此处只读引用。
func NewClient(httpClient *http.Client, baseURL string, auth *story.AuthContext) *Client {
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
	}
}

// envelope 对应 API 响应的公共外壳：error 标志 + 自由文本 message。
type envelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// LoginResult 对应登录成功的载荷。
type LoginResult struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

type loginResponse struct {
	envelope
	LoginResult LoginResult `json:"loginResult"`
}

type listResponse struct {
	envelope
	ListStory []story.Story `json:"listStory"`
}

// Login 执行登录并返回服务端分配的令牌与用户信息。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	payload := map[string]string{"email": email, "password": password}

	var resp loginResponse
	if err := c.postJSON(ctx, "/login", payload, false, &resp); err != nil {
		return nil, err
	}
	if resp.Error {
		return nil, &ServerError{Message: resp.Message}
	}
	return &resp.LoginResult, nil
}

// Register 注册新用户。
func (c *Client) Register(ctx context.Context, name, email, password string) error {
	payload := map[string]string{"name": name, "email": email, "password": password}

	var resp envelope
	if err := c.postJSON(ctx, "/register", payload, false, &resp); err != nil {
		return err
	}
	if resp.Error {
		return &ServerError{Message: resp.Message}
	}
	return nil
}

// ListStories 拉取故事列表。"Stories not found" 形态的 error 视为空集合成功。
func (c *Client) ListStories(ctx context.Context) ([]story.Story, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/stories?location=1&size=20&page=1", nil, true)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := c.do(req, &resp); err != nil {
		if se := AsServer(err); se != nil && se.Message == emptyListMessage {
			return nil, nil
		}
		return nil, err
	}
	if resp.Error {
		if resp.Message == emptyListMessage {
			return nil, nil
		}
		return nil, &ServerError{Message: resp.Message}
	}
	return resp.ListStory, nil
}

// CreateStory 以 multipart 表单上传一条新故事。
func (c *Client) CreateStory(ctx context.Context, description string, photo io.Reader, filename string, loc *story.Location) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("description", description); err != nil {
		return fmt.Errorf("write description field: %w", err)
	}
	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("create photo part: %w", err)
	}
	if _, err := io.Copy(part, photo); err != nil {
		return fmt.Errorf("copy photo: %w", err)
	}
	if loc != nil {
		if err := writer.WriteField("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64)); err != nil {
			return fmt.Errorf("write lat field: %w", err)
		}
		if err := writer.WriteField("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64)); err != nil {
			return fmt.Errorf("write lon field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/stories", &buf, true)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp envelope
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if resp.Error {
		return &ServerError{Message: resp.Message}
	}
	return nil
}

// Subscribe 将推送订阅注册到源站。
func (c *Client) Subscribe(ctx context.Context, sub story.Subscription) error {
	var resp envelope
	if err := c.postJSON(ctx, "/notifications/subscribe", sub, true, &resp); err != nil {
		return err
	}
	if resp.Error {
		return &ServerError{Message: resp.Message}
	}
	return nil
}

// Unsubscribe 将订阅从源站注销，只需提交 endpoint。
func (c *Client) Unsubscribe(ctx context.Context, sub story.Subscription) error {
	payload := map[string]string{"endpoint": sub.Endpoint}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodDelete, "/notifications/subscribe", bytes.NewReader(body), true)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp envelope
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if resp.Error {
		return &ServerError{Message: resp.Message}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, withAuth bool, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, withAuth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if withAuth && c.auth.LoggedIn() {
		req.Header.Set("Authorization", "Bearer "+c.auth.Token)
	}
	return req, nil
}

// do 执行请求并归一化结果：网络失败 → TransportError；
// 非 2xx → ServerError（尽量带上载荷中的 message）；2xx → 解析 out。
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if jsonErr := json.Unmarshal(raw, &env); jsonErr == nil && env.Message != "" {
			return &ServerError{Status: resp.StatusCode, Message: env.Message}
		}
		return &ServerError{Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
