package gateway

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/story"
)

const contextKeyRequestID = "_storysync_request_id"

// Options 汇总构建网关应用所需的依赖。
type Options struct {
	Logger   *logrus.Logger
	Handler  *Handler
	Notifier Notifier
}

// NewApp 构建网关 Fiber 应用：推送事件入口 + 全量请求拦截。
// 网关运行在与协调层隔离的执行上下文中，二者只通过被拦截的请求
// 与推送事件交互，不共享可变内存。
func NewApp(opts Options) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("intercept handler is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("notifier is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.Post("/-/push", pushHandler(opts))
	app.Post("/-/notification-click", notificationClickHandler(opts))

	app.All("/*", func(c fiber.Ctx) error {
		if isControlPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// isControlPath 识别控制面路径：/app 下的本地操作接口在拦截层之后注册，
// 走 c.Next() 落到各自的处理器，不参与缓存策略。
func isControlPath(path string) bool {
	return path == "/app" || strings.HasPrefix(path, "/app/")
}

// requestIDMiddleware 为每个被拦截的请求生成请求 ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID 返回中间件写入的请求标识。
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// pushHandler 处理推送事件：解析载荷（失败回退默认通知）并展示。
// 展示失败只记录并如实上报，不会让推送事件本身失败。
func pushHandler(opts Options) fiber.Handler {
	return func(c fiber.Ctx) error {
		msg := story.ParsePushMessage(c.Body())

		displayed := true
		if err := opts.Notifier.Display(c.Context(), msg); err != nil {
			displayed = false
			opts.Logger.WithError(err).WithFields(logrus.Fields{
				"action": "push",
				"title":  msg.Title,
			}).Warn("notification display failed")
		}

		return c.JSON(fiber.Map{
			"displayed": displayed,
			"title":     msg.Title,
		})
	}
}

// notificationClickHandler 关闭通知并唤起应用窗口。
func notificationClickHandler(opts Options) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := opts.Notifier.FocusApp(c.Context()); err != nil {
			opts.Logger.WithError(err).WithFields(logrus.Fields{
				"action": "notification_click",
			}).Warn("focus application failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "focus_failed"})
		}
		return c.JSON(fiber.Map{"focused": true})
	}
}
