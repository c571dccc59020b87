package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/milestone-escrow/backend/internal/config"
	"github.com/milestone-escrow/backend/internal/http/dto"
)

type MetaHandler struct {
	cfg *config.Config
}

func NewMetaHandler(cfg *config.Config) *MetaHandler {
	return &MetaHandler{cfg: cfg}
}

// GetPlatformInfo exposes the terms a client needs before funding
// anything: the fee rate, milestone cap and accepted token assets.
func (h *MetaHandler) GetPlatformInfo(c *fiber.Ctx) error {
	assets := h.cfg.ApprovedAssets
	if assets == nil {
		assets = []string{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.PlatformInfoResponse{
		PlatformFeeBPS: h.cfg.PlatformFeeBPS,
		MaxMilestones:  h.cfg.MaxMilestones,
		ApprovedAssets: assets,
		Paused:         h.cfg.Paused,
	}})
}
