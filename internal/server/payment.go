package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerservice "github.com/smallbiznis/balancebook/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/balancebook/internal/payment/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

func (s *Server) CreatePayment(c *gin.Context) {
	var req ledgerservice.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.ApplyPayment(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("customer_id", resp.Customer.ID.String())

	s.auditLog(c, "payment.create", "payment", resp.Payment.ID.String(), map[string]any{
		"customer_id":    resp.Customer.ID.String(),
		"amount":         resp.Payment.AmountPaid.StringFixed(2),
		"payment_method": resp.Payment.PaymentMethod,
		"new_balance":    resp.Payment.NewBalance.StringFixed(2),
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
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

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListPaymentRequest{
		PageToken:  query.PageToken,
		PageSize:   query.PageSize,
		CustomerID: query.CustomerID,
		From:       from,
		To:         to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	resp, err := s.paymentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RecentPayments(c *gin.Context) {
	resp, err := s.querySvc.RecentPayments(c.Request.Context(), parseLimit(c.Query("limit"), 5, 100))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) TodaysPayments(c *gin.Context) {
	resp, err := s.querySvc.TodaysPayments(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
