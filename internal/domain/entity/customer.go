package entity

// Customer receptor del documento.
type Customer struct {
	ID           string
	CompanyID    string
	RUT          string
	BusinessName string // RznSocRecep
	Activity     string // GiroRecep
	Address      string
	Commune      string
	City         string
}
