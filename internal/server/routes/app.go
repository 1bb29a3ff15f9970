package routes

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/story-sync/story-sync/internal/api"
	"github.com/story-sync/story-sync/internal/controller"
	"github.com/story-sync/story-sync/internal/story"
)

// RegisterAppRoutes 暴露 /app 控制面接口，把协调控制器的操作映射为本地 HTTP 端点。
// 这组接口只供本机前端调用，不做鉴权；登录态由控制器内部的 AuthContext 维护。
func RegisterAppRoutes(app *fiber.App, ctrl *controller.Controller, logger *logrus.Logger) {
	if app == nil || ctrl == nil {
		return
	}

	app.Post("/app/login", func(c fiber.Ctx) error {
		var payload struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}

		result, notice, err := ctrl.Login(c.Context(), payload.Email, payload.Password)
		if err != nil {
			return writeAPIError(c, err)
		}
		return c.JSON(fiber.Map{
			"user_id": result.UserID,
			"name":    result.Name,
			"notice":  notice,
		})
	})

	app.Post("/app/register", func(c fiber.Ctx) error {
		var payload struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.Bind().Body(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		}

		if err := ctrl.Register(c.Context(), payload.Name, payload.Email, payload.Password); err != nil {
			return writeAPIError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"registered": true})
	})

	app.Post("/app/logout", func(c fiber.Ctx) error {
		ctrl.Logout(c.Context())
		return c.JSON(fiber.Map{"logged_out": true})
	})

	app.Get("/app/feed", func(c fiber.Ctx) error {
		result, err := ctrl.LoadFeed(c.Context())
		if err != nil {
			return writeAPIError(c, err)
		}
		return c.JSON(result)
	})

	app.Get("/app/saved", func(c fiber.Ctx) error {
		saved, err := ctrl.SavedStories(c.Context())
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"action": "list_saved",
			}).Error("entity store read failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "store_read_failed"})
		}
		return c.JSON(fiber.Map{"stories": saved})
	})

	app.Put("/app/saved/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "story_id_required"})
		}
		notice := ctrl.SaveForOffline(c.Context(), id)
		return c.JSON(fiber.Map{"notice": notice})
	})

	app.Delete("/app/saved/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "story_id_required"})
		}
		saved, notice := ctrl.RemoveFromOffline(c.Context(), id)
		return c.JSON(fiber.Map{"stories": saved, "notice": notice})
	})

	app.Post("/app/stories", func(c fiber.Ctx) error {
		description := c.FormValue("description")
		photo, filename, err := readPhoto(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "photo_unreadable"})
		}
		loc, err := parseLocation(c.FormValue("lat"), c.FormValue("lon"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_location"})
		}

		result, err := ctrl.SubmitStory(c.Context(), description, photo, filename, loc)
		if err != nil {
			return writeAPIError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})
}

// readPhoto 读取 multipart 中的 photo 字段。字段缺失不算请求格式错误，
// 交给控制器的本地校验产生 photo_required。
func readPhoto(c fiber.Ctx) ([]byte, string, error) {
	file, err := c.FormFile("photo")
	if err != nil {
		return nil, "", nil
	}
	f, err := file.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, file.Filename, nil
}

func parseLocation(latRaw, lonRaw string) (*story.Location, error) {
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return nil, err
	}
	return &story.Location{Lat: lat, Lon: lon}, nil
}

// writeAPIError 把控制器冒出的错误翻译为控制面响应：
// 本地校验失败 422、源站拒绝原样透传状态与消息、网络不可达 503。
func writeAPIError(c fiber.Ctx, err error) error {
	var validation *controller.ValidationError
	if errors.As(err, &validation) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   validation.Constraint,
			"message": validation.Message,
		})
	}
	if serverErr := api.AsServer(err); serverErr != nil {
		status := serverErr.Status
		if status == 0 {
			// error 信封可能随 2xx 返回，此时没有可透传的状态码。
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   "upstream_rejected",
			"message": serverErr.Message,
		})
	}
	if api.IsTransport(err) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "network_unavailable"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
}
