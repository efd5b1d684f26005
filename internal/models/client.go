package models

// ClientContext describes the caller of a request as far as it can be derived
// from the connection and headers.
type ClientContext struct {
	IP         string `json:"ip"`
	Country    string `json:"country,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Browser    string `json:"browser,omitempty"`
	IsBot      bool   `json:"is_bot"`
}
