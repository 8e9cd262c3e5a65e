package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustedshare/core/internal/fees"
	"trustedshare/core/internal/services"
)

// RestQuoteHandler computes fee quotes without touching any booking state.
type RestQuoteHandler struct {
	configService services.IConfigService
}

// NewRestQuoteHandler creates a new RestQuoteHandler.
func NewRestQuoteHandler(configService services.IConfigService) *RestQuoteHandler {
	return &RestQuoteHandler{configService: configService}
}

// GetQuote handles GET /v1/quote?daily_rate=...&days=...&deposit=...
// Rates come from dynamic configuration so they can change without a deploy.
func (h *RestQuoteHandler) GetQuote(c *gin.Context) {
	dailyRate, err := strconv.ParseFloat(c.Query("daily_rate"), 64)
	if err != nil || dailyRate < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid daily_rate"})
		return
	}
	days, err := strconv.Atoi(c.Query("days"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days"})
		return
	}
	deposit := 0.0
	if depositStr := c.Query("deposit"); depositStr != "" {
		deposit, err = strconv.ParseFloat(depositStr, 64)
		if err != nil || deposit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid deposit"})
			return
		}
	}

	defaults := fees.DefaultRates()
	ctx := c.Request.Context()
	rates := fees.Rates{
		ServiceFeeRate:    h.configService.GetFloat64(ctx, "SERVICE_FEE_RATE", defaults.ServiceFeeRate),
		ProcessingFeeRate: h.configService.GetFloat64(ctx, "PROCESSING_FEE_RATE", defaults.ProcessingFeeRate),
		ProcessingFeeFlat: h.configService.GetFloat64(ctx, "PROCESSING_FEE_FLAT", defaults.ProcessingFeeFlat),
	}

	c.JSON(http.StatusOK, fees.Quote(dailyRate, days, deposit, rates))
}
