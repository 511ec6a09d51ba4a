package domain

import "time"

// Entitlement holds per-user feature flags, one row per user, created lazily
// on first need.
type Entitlement struct {
	UserID            string           `gorm:"type:uuid;primaryKey" json:"user_id"`
	ProEnabled        bool             `json:"pro_enabled"`
	WalletDeployments bool             `json:"wallet_deployments"`
	HistoryExport     bool             `json:"history_export"`
	ChatAgents        bool             `json:"chat_agents"`
	HostedFrontend    bool             `json:"hosted_frontend"`
	Limits            map[string]int64 `gorm:"serializer:json" json:"limits,omitempty"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

type EntitlementFlag string

const (
	FlagProEnabled        EntitlementFlag = "pro_enabled"
	FlagWalletDeployments EntitlementFlag = "wallet_deployments"
	FlagHistoryExport     EntitlementFlag = "history_export"
	FlagChatAgents        EntitlementFlag = "chat_agents"
	FlagHostedFrontend    EntitlementFlag = "hosted_frontend"
)

func (e *Entitlement) Has(flag EntitlementFlag) bool {
	if e == nil {
		return false
	}
	switch flag {
	case FlagProEnabled:
		return e.ProEnabled
	case FlagWalletDeployments:
		return e.WalletDeployments
	case FlagHistoryExport:
		return e.HistoryExport
	case FlagChatAgents:
		return e.ChatAgents
	case FlagHostedFrontend:
		return e.HostedFrontend
	}
	return false
}
