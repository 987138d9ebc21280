package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gamestore/internal/payment/capture"
	"github.com/smallbiznis/gamestore/internal/payment/checkout"
)

type checkoutRequest struct {
	Gateway   string         `json:"gateway"`
	GameID    string         `json:"game_id"`
	Amount    int64          `json:"amount"`
	Buyer     checkout.Buyer `json:"buyer"`
	ReturnURL string         `json:"return_url"`
	CancelURL string         `json:"cancel_url"`
}

func (s *Server) HandleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("gateway", strings.ToLower(strings.TrimSpace(req.Gateway)))
	resp, err := s.checkoutSvc.Initiate(c.Request.Context(), checkout.InitiateRequest{
		Gateway:   req.Gateway,
		UserID:    userIDFrom(c),
		GameID:    req.GameID,
		Amount:    req.Amount,
		Buyer:     req.Buyer,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type captureRequest struct {
	OrderID string `json:"order_id"`
	GameID  string `json:"game_id"`
	Amount  int64  `json:"amount"`
}

func (s *Server) HandleCapture(c *gin.Context) {
	var req captureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("gateway", "paypal")
	record, err := s.captureSvc.Capture(c.Request.Context(), capture.CaptureRequest{
		OrderID: req.OrderID,
		UserID:  userIDFrom(c),
		GameID:  req.GameID,
		Amount:  req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": purchaseViewOf(record)})
}
