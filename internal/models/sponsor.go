package models

// SponsorPattern maps a linking-code prefix to a sponsor (tenant).
type SponsorPattern struct {
	Prefix     string
	SponsorID  string
	SponsorURL string
	Active     bool
}

// Sponsor is the resolved tenant binding carried into tokens.
type Sponsor struct {
	ID  string
	URL string
}
