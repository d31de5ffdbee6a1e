package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerservice "github.com/smallbiznis/balancebook/internal/ledger/service"
	orderdomain "github.com/smallbiznis/balancebook/internal/order/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

func (s *Server) CreateOrder(c *gin.Context) {
	var req ledgerservice.NewOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ApplyNewOrder(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", resp.Customer.ID.String())

	s.auditLog(c, "order.create", "order", resp.Order.ID.String(), map[string]any{
		"order_number": resp.Order.OrderNumber,
		"customer_id":  resp.Customer.ID.String(),
		"total":        resp.Order.Total.StringFixed(2),
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
		Status     string `form:"status"`
		From       string `form:"from"`
		To         string `form:"to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	loc := s.settings.Get().Location()
	from, err := parseOptionalTime(query.From, false, loc)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true, loc)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListOrderRequest{
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
		CustomerID: query.CustomerID,
		From:       from,
		To:         to,
		Status:     query.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrderByID(c *gin.Context) {
	resp, err := s.orderSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ModifyOrder(c *gin.Context) {
	var req ledgerservice.ModifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrderID = c.Param("id")

	resp, err := s.ledgerSvc.ModifyOrder(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", resp.Customer.ID.String())

	s.auditLog(c, "order.modify", "order", resp.Order.ID.String(), map[string]any{
		"customer_id": resp.Customer.ID.String(),
		"total":       resp.Order.Total.StringFixed(2),
		"status":      string(resp.Order.Status),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteOrder(c *gin.Context) {
	resp, err := s.ledgerSvc.DeleteOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", resp.Customer.ID.String())

	deletedPayments := make([]string, 0, len(resp.DeletedPayments))
	for _, id := range resp.DeletedPayments {
		deletedPayments = append(deletedPayments, id.String())
	}
	s.auditLog(c, "order.delete", "order", resp.OrderID.String(), map[string]any{
		"customer_id":      resp.Customer.ID.String(),
		"deleted_payments": deletedPayments,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UnseenOrders(c *gin.Context) {
	count, err := s.querySvc.UnseenOrderCount(c.Request.Context(), viewerFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"count": count}})
}

func (s *Server) MarkOrdersSeen(c *gin.Context) {
	at, err := s.querySvc.MarkOrdersSeen(c.Request.Context(), viewerFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"last_seen_at": at}})
}

func (s *Server) OrderReceipt(c *gin.Context) {
	pdf, filename, err := s.receiptSvc.OrderReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}
