package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/smallbiznis/balancebook/internal/customer/domain"
	"github.com/smallbiznis/balancebook/pkg/db/pagination"
)

type createCustomerRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Email   string `json:"email"`
	Status  string `json:"status"`
}

type updateCustomerRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Email   *string `json:"email"`
	Status  *string `json:"status"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.customerSvc.Create(c.Request.Context(), customerdomain.CreateCustomerRequest{
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
		Email:   req.Email,
		Status:  customerdomain.Status(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditLog(c, "customer.create", "customer", resp.ID.String(), map[string]any{
		"name":  resp.Name,
		"phone": resp.Phone,
	})

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListCustomers(c *gin.Context) {
	var query struct {
		pagination.Pagination
		Name    string `form:"name"`
		Status  string `form:"status"`
		Pending string `form:"pending"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pending, err := parseOptionalBool(query.Pending)
	if err != nil {
		AbortWithError(c, newValidationError("pending", "invalid_pending", "invalid pending"))
		return
	}

	resp, err := s.customerSvc.List(c.Request.Context(), customerdomain.ListCustomerRequest{
		PageToken:   query.PageToken,
		PageSize:    query.PageSize,
		Name:        query.Name,
		Status:      customerdomain.Status(strings.TrimSpace(query.Status)),
		WithPending: pending != nil && *pending,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCustomerByID(c *gin.Context) {
	resp, err := s.customerSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateCustomer(c *gin.Context) {
	var req updateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := customerdomain.UpdateCustomerRequest{
		ID:      c.Param("id"),
		Name:    req.Name,
		Phone:   req.Phone,
		Address: req.Address,
		Email:   req.Email,
	}
	if req.Status != nil {
		status := customerdomain.Status(strings.TrimSpace(*req.Status))
		update.Status = &status
	}

	resp, err := s.customerSvc.Update(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditLog(c, "customer.update", "customer", resp.ID.String(), map[string]any{
		"name":    req.Name,
		"phone":   req.Phone,
		"address": req.Address,
		"email":   req.Email,
		"status":  req.Status,
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) LookupCustomer(c *gin.Context) {
	resp, err := s.querySvc.FindCustomerByContact(c.Request.Context(), c.Query("phone"), strings.TrimSpace(c.Query("email")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListCustomerOrders(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, customerdomain.ErrInvalidID)
		return
	}

	orders, err := s.querySvc.OrdersByCustomer(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) ListCustomerPayments(c *gin.Context) {
	customerID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, customerdomain.ErrInvalidID)
		return
	}

	resp, err := s.querySvc.CustomerPayments(c.Request.Context(), customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RebuildCustomer(c *gin.Context) {
	resp, err := s.ledgerSvc.RebuildCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.auditLog(c, "ledger.rebuild", "customer", resp.ID.String(), map[string]any{
		"pending_balance": resp.PendingBalance.StringFixed(2),
	})

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
