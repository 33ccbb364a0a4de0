package model

// ImageInput references one image either by URL or by inline base64 data.
type ImageInput struct {
	URL      string `json:"url,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Empty reports whether neither a URL nor inline data is set.
func (i ImageInput) Empty() bool {
	return i.URL == "" && i.Base64 == ""
}

// Quality is the model's assessment of the photo itself.
type Quality struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// ImageAnalysis holds the product attributes extracted from an image.
type ImageAnalysis struct {
	Name        string            `json:"name"`
	Brand       string            `json:"brand,omitempty"`
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Colors      []string          `json:"colors,omitempty"`
	Quality     Quality           `json:"quality"`
	Confidence  float64           `json:"confidence"`
}

// MultiImageAnalysis holds per-angle analyses of one item plus the merged view.
type MultiImageAnalysis struct {
	Images   []ImageAnalysis `json:"images"`
	Combined ImageAnalysis   `json:"combined"`
}

// ProductCandidate is a caller-supplied catalog product to match against.
type ProductCandidate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Brand    string `json:"brand,omitempty"`
	Category string `json:"category,omitempty"`
}

// ProductMatch pairs a candidate with its similarity score (0–100).
type ProductMatch struct {
	Product    ProductCandidate `json:"product"`
	Similarity float64          `json:"similarity"`
	Reasons    []string         `json:"reasons,omitempty"`
}

// MatchResult is the outcome of matching one image against a candidate list.
type MatchResult struct {
	Analysis      ImageAnalysis  `json:"analysis"`
	Matches       []ProductMatch `json:"matches"`
	TotalScanned  int            `json:"totalScanned"`
	TotalMatched  int            `json:"totalMatched"`
	MinSimilarity float64        `json:"minSimilarity"`
}
