package dto

import "github.com/jhoicas/dte-api/internal/domain/entity"

// CompanyRequest datos del emisor para PUT /api/company y dtectl company upsert.
type CompanyRequest struct {
	RUT              string `json:"rut"`
	BusinessName     string `json:"business_name"`
	Activity         string `json:"activity"`
	ActivityCode     int    `json:"activity_code"`
	Address          string `json:"address"`
	Commune          string `json:"commune"`
	City             string `json:"city"`
	ResolutionNumber int    `json:"resolution_number"`
	ResolutionDate   string `json:"resolution_date"` // AAAA-MM-DD
}

// CompanyResponse emisor en respuestas.
type CompanyResponse struct {
	ID               string `json:"id"`
	RUT              string `json:"rut"`
	BusinessName     string `json:"business_name"`
	Activity         string `json:"activity"`
	ActivityCode     int    `json:"activity_code"`
	Address          string `json:"address"`
	Commune          string `json:"commune"`
	City             string `json:"city"`
	ResolutionNumber int    `json:"resolution_number"`
	ResolutionDate   string `json:"resolution_date"`
}

// NewCompanyResponse mapea el emisor; nil si c es nil.
func NewCompanyResponse(c *entity.Company) *CompanyResponse {
	if c == nil {
		return nil
	}
	return &CompanyResponse{
		ID:               c.ID,
		RUT:              c.RUT,
		BusinessName:     c.BusinessName,
		Activity:         c.Activity,
		ActivityCode:     c.ActivityCode,
		Address:          c.Address,
		Commune:          c.Commune,
		City:             c.City,
		ResolutionNumber: c.ResolutionNumber,
		ResolutionDate:   c.ResolutionDate,
	}
}
