package model

// Group is one bucket of a grouped aggregation result.
type Group struct {
	Key          string        `json:"key"`
	Entries      []TaggedEntry `json:"entries"`
	ErrorCount   int           `json:"errorCount"`
	WarningCount int           `json:"warningCount"`
}

// Pagination describes the window applied to the flat filtered sequence.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// SourceFailure records a per-alias or per-file read failure that was
// tolerated during aggregation.
type SourceFailure struct {
	UserID    string `json:"userId"`
	AliasName string `json:"aliasName"`
	Path      string `json:"path,omitempty"`
	Reason    string `json:"reason"`
}

// Metadata summarizes what an aggregation pass covered.
type Metadata struct {
	TotalUsers     int             `json:"totalUsers"`
	ProcessedUsers int             `json:"processedUsers"`
	TotalFiles     int             `json:"totalFiles"`
	TotalLogs      int             `json:"totalLogs"`
	Failures       []SourceFailure `json:"failures,omitempty"`
}

// AggregationResult is produced fresh per computation and cached by the
// query's canonical key.
type AggregationResult struct {
	Entries           []TaggedEntry    `json:"entries"`
	Groups            map[string]Group `json:"groupedData,omitempty"`
	TotalBeforeFilter int              `json:"totalBeforeFilter"`
	TotalAfterFilter  int              `json:"totalAfterFilter"`
	Metadata          Metadata         `json:"metadata"`
	Pagination        Pagination       `json:"pagination"`
	FromCache         bool             `json:"fromCache"`
}
