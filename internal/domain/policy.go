package domain

// PolicyInput is the document handed to the entitlement policy engine.
type PolicyInput struct {
	LicenseID    string         `json:"license_id"`
	ProductCode  string         `json:"product_code"`
	Tier         string         `json:"tier"`
	Feature      string         `json:"feature"`
	Entitlements []Entitlement  `json:"entitlements"`
	Context      map[string]any `json:"context,omitempty"`
}

// PolicyDecision is the engine's verdict for one feature check.
type PolicyDecision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
}
