package imagegen

// GeneratedImage is one image produced by the expansion service.
type GeneratedImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ExpandRequest carries one product's expansion call.
type ExpandRequest struct {
	ProductID         string `json:"product_id"`
	SourceImageURL    string `json:"source_image_url"`
	Mode              string `json:"mode"`
	CurrentImageCount int    `json:"current_image_count"`
	MaxImages         int    `json:"max_images"`
}

type expandResponse struct {
	Success         bool             `json:"success"`
	GeneratedImages []GeneratedImage `json:"generated_images"`
	Error           string           `json:"error"`
}
