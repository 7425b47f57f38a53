package dto

type IssueCodeRequest struct {
	Identity   string `json:"identity" binding:"required"`
	Purpose    string `json:"purpose" binding:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// IssueCodeResponse deliberately omits the code itself; it travels only
// through the configured delivery channel.
type IssueCodeResponse struct {
	Identity      string `json:"identity"`
	Purpose       string `json:"purpose"`
	ExpiresAt     string `json:"expires_at"`
	Delivered     bool   `json:"delivered"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

type VerifyCodeRequest struct {
	Identity string `json:"identity" binding:"required"`
	Purpose  string `json:"purpose" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

type VerifyCodeResponse struct {
	Verdict  string `json:"verdict"`
	Attempts int    `json:"attempts,omitempty"`
}
