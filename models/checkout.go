package models

type CheckoutRequest struct {
	Loops []string `json:"loops"`
}

type CartRequest struct {
	IDs []string `json:"ids"`
}

type CheckoutResponse struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url"`
}

type CartResponse struct {
	Items []*Loop `json:"items"`
	Total float64 `json:"total"`
}

type CatalogResponse struct {
	Categories []*Category `json:"categories"`
}
