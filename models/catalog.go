package models

type Category struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Folder      string  `json:"folder"`
	PriceEUR    float64 `json:"price_eur"`
	Loops       []*Loop `json:"loops"`
}

type Loop struct {
	ID         string  `json:"id"`
	File       string  `json:"file"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	Preview    string  `json:"preview"`
	PriceEUR   float64 `json:"price_eur"`
	CategoryID string  `json:"category_id"`
}
