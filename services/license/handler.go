package license

import (
	"net/http"
	"time"

	"licensegate/pkg/errutil"
	"licensegate/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type verifyRequestBody struct {
	LicenseKey string `json:"license_key" form:"license_key" binding:"required"`
	Domain     string `json:"domain" form:"domain" binding:"required"`
}

type domainResponse struct {
	ID         string     `json:"id"`
	Domain     string     `json:"domain"`
	Status     string     `json:"status"`
	VerifiedAt *time.Time `json:"verified_at"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Verify is the phone-home endpoint. Malformed requests are the only 4xx
// channel; every business decision, block or allow, goes out as 200 so
// clients can always parse one response shape.
func (h *Handler) Verify(c *gin.Context) {
	var body verifyRequestBody
	if err := c.ShouldBind(&body); err != nil {
		_ = c.Error(errutil.BadRequest("license_key and domain are required", err))
		return
	}

	result, err := h.svc.Verify(c.Request.Context(), &VerifyRequest{
		LicenseKey: body.LicenseKey,
		Domain:     body.Domain,
		ClientIP:   c.ClientIP(),
		Channel:    middleware.GetChannel(c),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListDomains(c *gin.Context) {
	licenseKey := c.Query("license_key")
	if licenseKey == "" {
		_ = c.Error(errutil.BadRequest("license_key is required", nil))
		return
	}

	records, err := h.svc.ListDomains(c.Request.Context(), licenseKey)
	if err != nil {
		_ = c.Error(err)
		return
	}

	domains := make([]domainResponse, 0, len(records))
	for _, record := range records {
		domains = append(domains, domainResponse{
			ID:         record.ID,
			Domain:     record.Domain,
			Status:     string(record.Status),
			VerifiedAt: record.VerifiedAt,
			LastSeenAt: record.LastSeenAt,
			CreatedAt:  record.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"domains": domains})
}

func registerRoutes(engine *gin.Engine, h *Handler) {
	api := engine.Group("/api/license")
	api.POST("/verify", h.Verify)
	api.GET("/domains", h.ListDomains)
}

var routeModule = fx.Invoke(registerRoutes)
