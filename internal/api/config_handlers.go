package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/scribehub/recordcache/internal/config"
	"gopkg.in/yaml.v3"
)

const redacted = "********"

// handleGetConfig handles GET /config. The configuration is rendered as YAML
// with secrets redacted.
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	if s.configManager == nil {
		return RespondError(c, fiber.StatusServiceUnavailable, ErrCodeUnavailable, "Configuration management not available", "")
	}

	cfg := s.configManager.GetConfig().DeepCopy()
	if cfg.Backend.APIKey != "" {
		cfg.Backend.APIKey = redacted
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return RespondAppError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/yaml")
	return c.Send(data)
}

// handleUpdateConfig handles PUT /config. The YAML body is merged over the
// current configuration; omitted keys keep their values.
func (s *Server) handleUpdateConfig(c *fiber.Ctx) error {
	if s.configManager == nil {
		return RespondError(c, fiber.StatusServiceUnavailable, ErrCodeUnavailable, "Configuration management not available", "")
	}

	current := s.configManager.GetConfig()
	next := current.DeepCopy()
	if err := yaml.Unmarshal(c.Body(), next); err != nil {
		return RespondBadRequest(c, "Invalid configuration", err.Error())
	}
	if next.Backend.APIKey == redacted {
		next.Backend.APIKey = current.Backend.APIKey
	}

	if err := s.configManager.UpdateConfig(next); err != nil {
		return RespondError(c, fiber.StatusBadRequest, ErrCodeValidation, "Configuration rejected", err.Error())
	}
	if err := s.configManager.SaveConfig(); err != nil {
		s.logger.WarnContext(c.UserContext(), "Configuration applied but not saved", "error", err)
	}

	return s.handleGetConfig(c)
}
