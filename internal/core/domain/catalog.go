package domain

// SearchResult is the cached payload of a product search.
type SearchResult struct {
	Query     string    `json:"query"`
	Count     int       `json:"count"`
	Products  []Product `json:"products"`
	Cached    bool      `json:"cached"`
	Timestamp int64     `json:"timestamp"`
}

type RecentSearch struct {
	Query     string `json:"query"`
	Timestamp int64  `json:"timestamp"`
}

// Notification is the envelope written to push subscribers.
type Notification struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	SentAt  int64  `json:"timestamp"`
}
