package domain

// BoardSettings is the session configuration served at startup.
type BoardSettings struct {
	Constraints    Constraints `json:"constraints"`
	DefaultProduct string      `json:"default_product"`
	RefreshTime    int         `json:"refresh_time"`
	Products       []string    `json:"products"`
}
