package dto

// SettingItem represents a system setting entry exposed via API.
type SettingItem struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// UpdateSettingRequest describes the payload for updating a single setting.
// The key comes from the request path.
type UpdateSettingRequest struct {
	Value       string  `json:"value" validate:"required"`
	Description *string `json:"description,omitempty"`
}
