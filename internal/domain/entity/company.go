package entity

// Company datos del emisor que exige el encabezado del DTE.
type Company struct {
	ID               string
	RUT              string // con dígito verificador (ej: 76192083-9)
	BusinessName     string // RznSoc
	Activity         string // GiroEmis
	ActivityCode     int    // Acteco
	Address          string
	Commune          string
	City             string
	ResolutionNumber int    // NroResol otorgado por el SII
	ResolutionDate   string // FchResol (AAAA-MM-DD)
}
