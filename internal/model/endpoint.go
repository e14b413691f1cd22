package model

// Endpoint is a physical send path (a SIM subscription in a slot).
type Endpoint struct {
	SubscriptionID int32  `json:"subscription_id"`
	Slot           int32  `json:"slot"`
	Carrier        string `json:"carrier"`
	DisplayName    string `json:"display_name"`
	Active         bool   `json:"active"`
}
