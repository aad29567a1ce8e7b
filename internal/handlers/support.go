package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/supportbot/internal/support"
)

// SupportHandler exposes read-only support desk projections under /api.
type SupportHandler struct {
	service *support.Service
	logger  *slog.Logger
}

func NewSupportHandler(log *slog.Logger, service *support.Service) *SupportHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SupportHandler{
		service: service,
		logger:  log.With(slog.String("handler", "support")),
	}
}

func (h *SupportHandler) Register(e *echo.Echo) {
	group := e.Group("/api")
	group.GET("/customers", h.ListCustomers)
	group.GET("/users", h.ListUsers)
	group.GET("/users/banned", h.ListBannedUsers)
	group.GET("/operators", h.ListOperators)
	group.GET("/messages/unanswered", h.ListUnanswered)
}

// ListCustomers godoc
// @Summary List customers
// @Tags support
// @Success 200 {object} support.ListCustomersResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/customers [get]
func (h *SupportHandler) ListCustomers(c echo.Context) error {
	items, err := h.service.ListCustomers(c.Request().Context())
	if err != nil {
		return h.internalError(c, "list customers", err)
	}
	return c.JSON(http.StatusOK, support.ListCustomersResponse{Items: items})
}

// ListUsers godoc
// @Summary List users that are not customers
// @Tags support
// @Success 200 {object} support.ListUsersResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/users [get]
func (h *SupportHandler) ListUsers(c echo.Context) error {
	items, err := h.service.ListNonCustomerUsers(c.Request().Context())
	if err != nil {
		return h.internalError(c, "list users", err)
	}
	return c.JSON(http.StatusOK, support.ListUsersResponse{Items: items})
}

// ListBannedUsers godoc
// @Summary List banned users
// @Tags support
// @Success 200 {object} support.ListUsersResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/users/banned [get]
func (h *SupportHandler) ListBannedUsers(c echo.Context) error {
	items, err := h.service.ListBannedUsers(c.Request().Context())
	if err != nil {
		return h.internalError(c, "list banned users", err)
	}
	return c.JSON(http.StatusOK, support.ListUsersResponse{Items: items})
}

// ListOperators godoc
// @Summary List operators
// @Tags support
// @Success 200 {object} support.ListOperatorsResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/operators [get]
func (h *SupportHandler) ListOperators(c echo.Context) error {
	items, err := h.service.ListOperators(c.Request().Context())
	if err != nil {
		return h.internalError(c, "list operators", err)
	}
	return c.JSON(http.StatusOK, support.ListOperatorsResponse{Items: items})
}

// ListUnanswered godoc
// @Summary List unanswered messages, oldest first
// @Tags support
// @Success 200 {object} support.ListMessagesResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/messages/unanswered [get]
func (h *SupportHandler) ListUnanswered(c echo.Context) error {
	items, err := h.service.ListUnanswered(c.Request().Context())
	if err != nil {
		return h.internalError(c, "list unanswered", err)
	}
	return c.JSON(http.StatusOK, support.ListMessagesResponse{Items: items})
}

func (h *SupportHandler) internalError(c echo.Context, op string, err error) error {
	h.logger.Error(op+" failed", slog.Any("error", err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
}
