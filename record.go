package numstock

import "time"

// IngestRecord is one number as it arrives from an upstream feed, before
// provider detection.
type IngestRecord struct {
	// Number is the phone number. Required.
	Number string

	// Source locates where the number was scraped or exported from.
	Source string

	// ImportedAt is the ingestion timestamp and decides which partition the
	// row lands in. Required.
	ImportedAt time.Time
}

// PoolRecord is one row of the pool as stored, with the provider derived
// from the number prefix and the batch label of the ingestion run.
type PoolRecord struct {
	Number     string
	Provider   Provider
	Source     string
	ImportedAt time.Time
	Batch      string
}

// Sale is one row of the sales ledger. The ledger is append-only; a number
// sold to several customers over time has several rows.
type Sale struct {
	Number   string
	Customer string
	SoldAt   time.Time
}
