package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string           `json:"request_id"`
	Timestamp time.Time        `json:"timestamp"`
	Command   string           `json:"command"`
	Providers []ProviderStatus `json:"providers,omitempty"`
	Cache     CacheStatus      `json:"cache"`
}

// ProviderStatus reports one chain endpoint touched by a command.
type ProviderStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

// ActionInfo describes a registered agent action and whether the current
// settings enable it.
type ActionInfo struct {
	Name        string   `json:"name"`
	Similes     []string `json:"similes,omitempty"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
}

// ActionRun is the payload of an executed action.
type ActionRun struct {
	Action  string   `json:"action"`
	Text    string   `json:"text"`
	Data    any      `json:"data,omitempty"`
	Actions []string `json:"actions,omitempty"`
}

// ChainInfo is a configured chain. RPC URLs are not echoed since they often
// embed provider keys.
type ChainInfo struct {
	Name         string `json:"name"`
	ChainID      int64  `json:"chain_id"`
	Layer        string `json:"layer"`
	NativeSymbol string `json:"native_symbol"`
	ExplorerURL  string `json:"explorer_url"`
	CustomRPC    bool   `json:"custom_rpc"`
}
