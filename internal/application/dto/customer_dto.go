package dto

import "github.com/jhoicas/dte-api/internal/domain/entity"

// CustomerRequest body para POST /api/customers. ID vacío = se genera.
type CustomerRequest struct {
	ID           string `json:"id,omitempty"`
	RUT          string `json:"rut"`
	BusinessName string `json:"business_name"`
	Activity     string `json:"activity,omitempty"`
	Address      string `json:"address,omitempty"`
	Commune      string `json:"commune,omitempty"`
	City         string `json:"city,omitempty"`
}

// CustomerResponse receptor en respuestas.
type CustomerResponse struct {
	ID           string `json:"id"`
	CompanyID    string `json:"company_id"`
	RUT          string `json:"rut"`
	BusinessName string `json:"business_name"`
	Activity     string `json:"activity,omitempty"`
	Address      string `json:"address,omitempty"`
	Commune      string `json:"commune,omitempty"`
	City         string `json:"city,omitempty"`
}

// NewCustomerResponse mapea el receptor; nil si c es nil.
func NewCustomerResponse(c *entity.Customer) *CustomerResponse {
	if c == nil {
		return nil
	}
	return &CustomerResponse{
		ID:           c.ID,
		CompanyID:    c.CompanyID,
		RUT:          c.RUT,
		BusinessName: c.BusinessName,
		Activity:     c.Activity,
		Address:      c.Address,
		Commune:      c.Commune,
		City:         c.City,
	}
}
