package shoporasync

import "encoding/json"

type SyncModules struct {
	Products  bool `json:"products"`
	Orders    bool `json:"orders"`
	Customers bool `json:"customers"`
}

func DefaultModules() SyncModules {
	return SyncModules{
		Products:  true,
		Orders:    true,
		Customers: true,
	}
}

func NormalizeModules(mod SyncModules) SyncModules {
	// Required modules must always be enabled.
	mod.Products = true
	mod.Orders = true
	return mod
}

func DecodeModules(raw []byte) SyncModules {
	if len(raw) == 0 {
		return DefaultModules()
	}
	var mod SyncModules
	if err := json.Unmarshal(raw, &mod); err != nil {
		return DefaultModules()
	}
	return NormalizeModules(mod)
}

func EncodeModules(mod SyncModules) []byte {
	b, _ := json.Marshal(NormalizeModules(mod))
	return b
}

type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

type CursorState struct {
	Products  CursorEntry `json:"products"`
	Orders    CursorEntry `json:"orders"`
	Customers CursorEntry `json:"customers"`
}

func DecodeCursorState(raw []byte) CursorState {
	if len(raw) == 0 {
		return CursorState{}
	}
	var state CursorState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CursorState{}
	}
	return state
}

func EncodeCursorState(state CursorState) []byte {
	b, _ := json.Marshal(state)
	return b
}

type ConnectRequest struct {
	StoreId   string `json:"storeId"`
	StoreName string `json:"storeName"`
	APIKey    string `json:"apiKey"`
}

type UpdateSettingsRequest struct {
	Modules SyncModules `json:"modules"`
}

type TriggerSyncRequest struct {
	Modules SyncModules `json:"modules"`
}

// EffectiveModules resolves the modules for a run: the stored connection
// settings unless the trigger carried an explicit override.
func EffectiveModules(settings []byte, override *SyncModules) SyncModules {
	if override != nil {
		return NormalizeModules(*override)
	}
	return DecodeModules(settings)
}

type StatusResponse struct {
	Success           bool               `json:"success"`
	Connection        ConnectionResponse `json:"connection"`
	InProgress        bool               `json:"inProgress"`
	ReconciledStale   bool               `json:"reconciledStale"`
	Progress          *ProgressResponse  `json:"progress,omitempty"`
	LastSyncAt        *string            `json:"lastSyncAt"`
	LastSuccessSyncAt *string            `json:"lastSuccessSyncAt"`
	Modules           SyncModules        `json:"modules"`
}

type ConnectionResponse struct {
	Status    string `json:"status"`
	StoreId   string `json:"storeId"`
	StoreName string `json:"storeName"`
}

type ProgressResponse struct {
	ID        uint   `json:"id"`
	Status    string `json:"status"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Notes     string `json:"notes"`
	StartedAt string `json:"startedAt"`
	UpdatedAt string `json:"updatedAt"`
}

type SyncHistoryResponse struct {
	Items []SyncHistoryItem `json:"items"`
}

type SyncHistoryItem struct {
	ID             uint   `json:"id"`
	Status         string `json:"status"`
	OrdersSynced   int    `json:"ordersSynced"`
	ProductsSynced int    `json:"productsSynced"`
	ErrorMessage   string `json:"errorMessage"`
	CompletedAt    string `json:"completedAt"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	StoreId      string       `json:"store_id"`
	ConnectionId uint         `json:"connection_id"`
	Modules      *SyncModules `json:"modules,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}
