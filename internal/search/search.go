package search

// Record is the data we index for a decision.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Resolution  string `json:"resolution"`
	PipelineID  string `json:"pipelineId"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Urgency     string `json:"urgency"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	PipelineID string `json:"pipelineId"`
	Status     string `json:"status"`
	Urgency    string `json:"urgency"`
}

// Query describes a decision search request.
type Query struct {
	Text             string
	FilterPipelineID string
	FilterStatus     string
	FilterType       string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
