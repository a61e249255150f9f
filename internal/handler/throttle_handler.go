package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/throttle-sync/internal/domain"
)

// ThrottleStateReader is the read side of the throttle store.
type ThrottleStateReader interface {
	IsConditionThrottled(conditionKey string) bool
	IsEntityThrottled(entityKey string) bool
	IsBlocked(category domain.BlockingCategory, value string) bool
	IsKeyTemplateActive(value string) bool
}

type ThrottleHandler struct {
	state ThrottleStateReader
}

func NewThrottleHandler(state ThrottleStateReader) (*ThrottleHandler, error) {
	if state == nil {
		return nil, fmt.Errorf("throttle state reader is required")
	}
	return &ThrottleHandler{state: state}, nil
}

// RegisterThrottleRoutes exposes the node-local lookups for callers outside
// the gateway process. Keys contain slashes, so they travel as query parameters.
func RegisterThrottleRoutes(router fiber.Router, state ThrottleStateReader) error {
	h, err := NewThrottleHandler(state)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/throttle/conditions", h.GetCondition)
	v1.Get("/throttle/entities", h.GetEntity)
	v1.Get("/throttle/decision", h.GetDecision)
	v1.Get("/blocking/:category", h.GetBlocking)
	v1.Get("/key-templates", h.GetKeyTemplate)

	return nil
}

type lookupResponse struct {
	Key    string `json:"key"`
	Active bool   `json:"active"`
}

type decisionResponse struct {
	Allowed bool     `json:"allowed"`
	Reasons []string `json:"reasons"`
}

func (h *ThrottleHandler) GetCondition(c *fiber.Ctx) error {
	key, err := requiredQuery(c, "key")
	if err != nil {
		return err
	}
	return c.JSON(lookupResponse{Key: key, Active: h.state.IsConditionThrottled(key)})
}

func (h *ThrottleHandler) GetEntity(c *fiber.Ctx) error {
	key, err := requiredQuery(c, "key")
	if err != nil {
		return err
	}
	return c.JSON(lookupResponse{Key: key, Active: h.state.IsEntityThrottled(key)})
}

func (h *ThrottleHandler) GetBlocking(c *fiber.Ctx) error {
	category, err := domain.ParseBlockingCategory(c.Params("category"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	value, err := requiredQuery(c, "value")
	if err != nil {
		return err
	}
	return c.JSON(lookupResponse{Key: value, Active: h.state.IsBlocked(category, value)})
}

func (h *ThrottleHandler) GetKeyTemplate(c *fiber.Ctx) error {
	value, err := requiredQuery(c, "value")
	if err != nil {
		return err
	}
	return c.JSON(lookupResponse{Key: value, Active: h.state.IsKeyTemplateActive(value)})
}

// GetDecision evaluates every supplied dimension at once, blocking conditions first.
func (h *ThrottleHandler) GetDecision(c *fiber.Ctx) error {
	reasons := make([]string, 0, 2)

	for _, category := range domain.BlockingCategories {
		if value := strings.TrimSpace(c.Query(category.String())); value != "" && h.state.IsBlocked(category, value) {
			reasons = append(reasons, "blocked:"+category.String())
		}
	}
	if entity := strings.TrimSpace(c.Query("entity")); entity != "" && h.state.IsEntityThrottled(entity) {
		reasons = append(reasons, "throttled:entity")
	}
	if condition := strings.TrimSpace(c.Query("condition")); condition != "" && h.state.IsConditionThrottled(condition) {
		reasons = append(reasons, "throttled:condition")
	}

	return c.JSON(decisionResponse{Allowed: len(reasons) == 0, Reasons: reasons})
}

func requiredQuery(c *fiber.Ctx, name string) (string, error) {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s query parameter is required", name))
	}
	return value, nil
}
