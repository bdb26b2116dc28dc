package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"

	"quill/internal/identity"
	"quill/internal/middleware"
	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	codeInternal = "INTERNAL_ERROR"
	codeTimeout  = "TIMEOUT"
)

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch models.ErrorCode(err) {
	case models.CodeUnauthenticated:
		return fiber.StatusUnauthorized
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeConflict:
		return fiber.StatusConflict
	case models.CodeValidation:
		return fiber.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

// respondError writes err as a models.ErrorResponse. Server-side failures
// are logged and their details withheld from the client.
func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	resp := models.ErrorResponse{Error: err.Error(), Code: models.ErrorCode(err)}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
	}

	switch {
	case status == fiber.StatusGatewayTimeout:
		resp = models.ErrorResponse{Error: "Request timed out", Code: codeTimeout}
	case status >= fiber.StatusInternalServerError:
		middleware.Logger.ErrorContext(c.UserContext(), "request error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		if resp.Code == "" {
			resp.Code = codeInternal
		}
		resp.Error = "Internal server error"
	}
	return c.Status(status).JSON(resp)
}

// errorHandler handles errors returned by handlers and middleware.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	return respondError(c, err)
}

// bind decodes the request body into dest.
func bind(c *fiber.Ctx, dest interface{}) error {
	if err := c.BodyParser(dest); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// principalID returns the signed-in uid, or "" for anonymous requests.
func principalID(c *fiber.Ctx) string {
	p, _ := identity.PrincipalFromContext(c.UserContext())
	return p.UID
}

// page reads the limit and cursor query parameters. Services apply their
// own defaults and caps.
func page(c *fiber.Ctx) (limit int, cursor string) {
	limit = c.QueryInt("limit", 0)
	if limit < 0 {
		limit = 0
	}
	return limit, c.Query("cursor")
}

// splitList reads a comma-separated query value.
func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// formFiles reads every file uploaded under field. It returns nil for
// requests that are not multipart.
func formFiles(c *fiber.Ctx, field string) ([][]byte, error) {
	if !isMultipart(c) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("Invalid multipart form")
	}
	headers := form.File[field]
	out := make([][]byte, 0, len(headers))
	for _, fh := range headers {
		data, err := readFile(fh)
		if err != nil {
			return nil, models.NewValidationError("Could not read uploaded file " + fh.Filename)
		}
		out = append(out, data)
	}
	return out, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// formValue returns a pointer to the form value under key, or nil when the
// key was not sent.
func formValue(form *multipart.Form, key string) *string {
	if form == nil {
		return nil
	}
	values, ok := form.Value[key]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}
