package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gamestore/internal/payment/status"
	"github.com/smallbiznis/gamestore/internal/providers/pdf"
	purchasedomain "github.com/smallbiznis/gamestore/internal/purchase/domain"
	"github.com/smallbiznis/gamestore/pkg/db/pagination"
)

type purchaseView struct {
	ID                   string    `json:"id"`
	GameID               string    `json:"game_id"`
	Amount               int64     `json:"amount"`
	Currency             string    `json:"currency"`
	PaymentStatus        string    `json:"payment_status"`
	PaymentGateway       string    `json:"payment_gateway"`
	GatewayOrderID       string    `json:"gateway_order_id"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	PurchaseDate         time.Time `json:"purchase_date"`
}

func purchaseViewOf(record *purchasedomain.PurchaseRecord) purchaseView {
	view := purchaseView{
		ID:             record.ID.String(),
		GameID:         record.GameID,
		Amount:         record.Amount,
		Currency:       record.Currency,
		PaymentStatus:  string(record.PaymentStatus),
		PaymentGateway: record.PaymentGateway,
		GatewayOrderID: record.GatewayOrderID,
		PurchaseDate:   record.PurchaseDate,
	}
	if record.GatewayTransactionID != nil {
		view.GatewayTransactionID = *record.GatewayTransactionID
	}
	return view
}

type pollView struct {
	Attempts  int  `json:"attempts"`
	Exhausted bool `json:"exhausted"`
}

func (s *Server) HandlePurchaseStatus(c *gin.Context) {
	wait, err := parseOptionalBool(c.Query("wait"))
	if err != nil {
		AbortWithError(c, newValidationError("wait", "invalid_wait", "invalid value"))
		return
	}

	ctx := c.Request.Context()
	q := status.Query{
		UserID:         userIDFrom(c),
		GatewayOrderID: c.Param("order_id"),
		Gateway:        c.Query("gateway"),
		GameID:         c.Query("game_id"),
	}
	view, err := s.statusSvc.Check(ctx, q)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if wait == nil || !*wait || view.Status.IsTerminal() {
		c.JSON(http.StatusOK, gin.H{"data": view})
		return
	}

	pollCfg := s.pollCfg.Get().StatusPoll
	poller := &status.Poller{
		Checker:     s.statusSvc,
		Interval:    pollCfg.Interval,
		MaxAttempts: pollCfg.MaxAttempts,
		Metrics:     s.gwMetrics,
	}
	res := poller.Run(ctx, q)
	if res.State.Terminal() {
		if latest, err := s.statusSvc.Check(ctx, q); err == nil {
			view = latest
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"data": view,
		"poll": pollView{Attempts: res.Attempts, Exhausted: res.Exhausted},
	})
}

func (s *Server) HandleLibrary(c *gin.Context) {
	limit, err := parsePageSize(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid value"))
		return
	}
	after, err := decodeLibraryCursor(c.Query("page_token"))
	if err != nil {
		AbortWithError(c, newValidationError("page_token", "invalid_page_token", "invalid value"))
		return
	}

	records, err := s.purchases.ListCompletedByUser(c.Request.Context(), s.db, userIDFrom(c), after, limit+1)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	records, pageInfo := pagination.Page(records, limit, encodeLibraryCursor)

	items := make([]purchaseView, 0, len(records))
	for _, record := range records {
		items = append(items, purchaseViewOf(record))
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "page_info": pageInfo})
}

func encodeLibraryCursor(record *purchasedomain.PurchaseRecord) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:          record.ID.String(),
		PurchasedAt: record.PurchaseDate.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeLibraryCursor(token string) (*purchasedomain.LibraryCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	cursor, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, err
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil {
		return nil, err
	}
	purchaseDate, err := time.Parse(time.RFC3339Nano, cursor.PurchasedAt)
	if err != nil {
		return nil, err
	}
	return &purchasedomain.LibraryCursor{PurchaseDate: purchaseDate, ID: id}, nil
}

func (s *Server) HandlePurchaseReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	view, err := s.statusSvc.Check(ctx, status.Query{
		UserID:         userIDFrom(c),
		GatewayOrderID: c.Param("order_id"),
		Gateway:        c.Query("gateway"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if view.Status != purchasedomain.StatusCompleted || view.PurchaseID == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	record, err := s.purchases.FindByID(ctx, s.db, *view.PurchaseID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if record == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	title := record.GameID
	if game, err := s.catalogSvc.Get(ctx, record.GameID); err == nil && game != nil {
		title = game.Title
	}
	data := pdf.ReceiptData{
		StoreName:  s.cfg.AppName,
		PurchaseID: record.ID.String(),
		UserID:     record.UserID,
		GameTitle:  title,
		Gateway:    record.PaymentGateway,
		OrderID:    record.GatewayOrderID,
		Amount:     record.Amount,
		Currency:   record.Currency,
		DatePaid:   record.UpdatedAt.UTC().Format("2006-01-02"),
	}
	if record.GatewayTransactionID != nil {
		data.TransactionID = *record.GatewayTransactionID
	}

	doc, err := s.receipts.GenerateReceipt(ctx, data)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, record.ID.String()))
	c.Data(http.StatusOK, "application/pdf", body)
}
