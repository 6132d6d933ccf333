package insights

// RageIncident aggregates the rage-click bursts seen on one element of a page.
type RageIncident struct {
	PageURL                string   `json:"page_url"`
	ElementKey             string   `json:"element_key"`
	Incidents              int      `json:"incidents"`
	TotalClicksInIncidents int      `json:"total_clicks_in_incidents"`
	Sessions               []string `json:"sessions"`
	FirstSeen              int64    `json:"first_seen"`
	LastSeen               int64    `json:"last_seen"`
}

// DeadClickGroup aggregates clicks on one element that produced no
// navigation or DOM mutation.
type DeadClickGroup struct {
	PageURL    string   `json:"page_url"`
	ElementKey string   `json:"element_key"`
	Incidents  int      `json:"incidents"`
	DeadClicks int      `json:"dead_clicks"`
	Sessions   []string `json:"sessions"`
	FirstSeen  int64    `json:"first_seen"`
	LastSeen   int64    `json:"last_seen"`
}

// ErrorGroup collects equivalent JavaScript errors under one fingerprint.
type ErrorGroup struct {
	Fingerprint     string   `json:"fingerprint"`
	Name            string   `json:"name"`
	Message         string   `json:"message"`
	NormalizedStack string   `json:"normalized_stack,omitempty"`
	Count           int      `json:"count"`
	Sessions        []string `json:"sessions"`
	Pages           []string `json:"pages"`
	FirstSeen       int64    `json:"first_seen"`
	LastSeen        int64    `json:"last_seen"`
}

type SlowPage struct {
	PageURL    string  `json:"page_url"`
	Percentile float64 `json:"percentile"`
	LCP        float64 `json:"lcp"`
	Samples    int     `json:"samples"`
}

// QueryInfo describes the slice a result was computed from.
type QueryInfo struct {
	Samples   int  `json:"samples"`
	Truncated bool `json:"truncated"`
	NoData    bool `json:"no_data"`
}

type RateResult struct {
	WindowStart int64   `json:"window_start"`
	WindowMs    int64   `json:"window_ms"`
	Count       int     `json:"count"`
	PerMinute   float64 `json:"per_minute"`
	QueryInfo
}

type PercentileResult struct {
	Metric Metric  `json:"metric"`
	P      float64 `json:"p"`
	Value  float64 `json:"value"`
	QueryInfo
}

type RageResult struct {
	Incidents []RageIncident `json:"incidents"`
	QueryInfo
}

type DeadClickResult struct {
	Groups []DeadClickGroup `json:"groups"`
	QueryInfo
}

type ErrorGroupResult struct {
	Groups []ErrorGroup `json:"groups"`
	QueryInfo
}

type CoOccurrenceResult struct {
	Sessions      int `json:"sessions"`
	RageSessions  int `json:"rage_sessions"`
	ErrorSessions int `json:"error_sessions"`
	QueryInfo
}

type SlowPageResult struct {
	Pages []SlowPage `json:"pages"`
	QueryInfo
}
