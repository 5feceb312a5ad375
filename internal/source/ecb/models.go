package ecb

import "strconv"

// page is one page of the ECB content API.
type page struct {
	Info  pageInfo `json:"pageInfo"`
	Items []item   `json:"content"`
}

type pageInfo struct {
	Page     int `json:"page"`
	NumPages int `json:"numPages"`
}

type item struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description"`
	Summary      *string    `json:"summary"`
	Date         string     `json:"date"`
	CanonicalURL string     `json:"canonicalUrl"`
	Tags         []itemTag  `json:"tags"`
	LeadMedia    *leadMedia `json:"leadMedia"`
}

type itemTag struct {
	Label string `json:"label"`
}

type leadMedia struct {
	ImageURL string `json:"imageUrl"`
}

// statusError is a non-200 answer. Only 429 and 5xx are worth retrying.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "unexpected status: " + strconv.Itoa(e.code)
}

func (e *statusError) retryable() bool {
	return e.code == 429 || e.code >= 500
}
