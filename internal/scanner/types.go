package scanner

import "encoding/json"

// PortScanResult is the body returned by POST /scan/ports.
type PortScanResult struct {
	Target    string            `json:"target,omitempty"`
	Ports     string            `json:"ports,omitempty"`
	Status    string            `json:"status,omitempty"`
	OpenPorts []int             `json:"openPorts,omitempty"`
	Results   []json.RawMessage `json:"results,omitempty"`

	// Raw is the compacted response body, fields the struct does not model
	// included. It is empty for results built in code.
	Raw json.RawMessage `json:"-"`
}

func (r *PortScanResult) Payload() json.RawMessage { return r.Raw }

// Vulnerability is a single entry of a vulnerability scan.
type Vulnerability struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Port        int    `json:"port,omitempty"`
	Description string `json:"description,omitempty"`
}

// VulnScanResult is the body returned by POST /scan/vulnerabilities.
type VulnScanResult struct {
	Target          string          `json:"target,omitempty"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	RiskLevel       string          `json:"risk_level,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *VulnScanResult) Payload() json.RawMessage { return r.Raw }

// TLSScanResult is the body returned by POST /scan/ssl.
type TLSScanResult struct {
	Target           string `json:"target,omitempty"`
	SSLVersion       string `json:"ssl_version,omitempty"`
	CertificateValid bool   `json:"certificate_valid"`
	Issuer           string `json:"issuer,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *TLSScanResult) Payload() json.RawMessage { return r.Raw }

type portScanRequest struct {
	Target string `json:"target"`
	Ports  string `json:"ports"`
}

type targetRequest struct {
	Target string `json:"target"`
}
