package api

import "time"

// DashboardStats are the aggregate counters shown on the dashboard.
type DashboardStats struct {
	TotalScans              int `json:"total_scans"`
	ActiveScans             int `json:"active_scans"`
	TotalVulnerabilities    int `json:"total_vulnerabilities"`
	CriticalVulnerabilities int `json:"critical_vulnerabilities"`
}

// Scan is one scan as returned by the scan listing endpoints.
type Scan struct {
	ID                   int        `json:"id"`
	TargetURL            string     `json:"target_url"`
	ScanName             string     `json:"scan_name,omitempty"`
	Status               string     `json:"status"`
	Progress             int        `json:"progress"`
	CurrentPhase         string     `json:"current_phase,omitempty"`
	TotalVulnerabilities int        `json:"total_vulnerabilities"`
	CriticalCount        int        `json:"critical_count"`
	HighCount            int        `json:"high_count"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Vulnerability is one finding attached to a scan.
type Vulnerability struct {
	ID          int       `json:"id"`
	ScanID      int       `json:"scan_id"`
	Name        string    `json:"name"`
	Risk        string    `json:"risk"`
	URL         string    `json:"url"`
	Parameter   string    `json:"parameter,omitempty"`
	Description string    `json:"description,omitempty"`
	FoundAt     time.Time `json:"found_at"`
}

// scanListResponse is the wire shape of GET /scans.
type scanListResponse struct {
	Scans []Scan `json:"scans"`
	Total int    `json:"total"`
}

// vulnListResponse is the wire shape of GET /vulnerabilities.
type vulnListResponse struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Total           int             `json:"total"`
}

// DashboardSnapshot aggregates everything a full refresh needs.
type DashboardSnapshot struct {
	Stats DashboardStats
	Scans []Scan
}
