// Package relay proxies live translation sessions to the speech backend and
// meters their token usage.
package relay

import (
	"encoding/json"
	"strings"
	"sync"
)

// ModalityTokens is one usage snapshot broken down by modality.
type ModalityTokens struct {
	AudioInput  int64
	TextInput   int64
	AudioOutput int64
	TextOutput  int64
}

func (m ModalityTokens) IsZero() bool {
	return m.AudioInput == 0 && m.TextInput == 0 && m.AudioOutput == 0 && m.TextOutput == 0
}

func (m ModalityTokens) add(other ModalityTokens) ModalityTokens {
	return ModalityTokens{
		AudioInput:  m.AudioInput + other.AudioInput,
		TextInput:   m.TextInput + other.TextInput,
		AudioOutput: m.AudioOutput + other.AudioOutput,
		TextOutput:  m.TextOutput + other.TextOutput,
	}
}

type tokenDetail struct {
	Modality   string `json:"modality"`
	TokenCount int64  `json:"tokenCount"`
}

type usageMetadata struct {
	PromptTokensDetails   []tokenDetail `json:"promptTokensDetails"`
	ResponseTokensDetails []tokenDetail `json:"responseTokensDetails"`
}

type usageFrame struct {
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

// parseUsage extracts the usage metadata embedded in an upstream frame.
// Frames without it, including non-JSON binary payloads, return false.
func parseUsage(frame []byte) (ModalityTokens, bool) {
	var parsed usageFrame
	if err := json.Unmarshal(frame, &parsed); err != nil || parsed.UsageMetadata == nil {
		return ModalityTokens{}, false
	}

	var snapshot ModalityTokens
	for _, detail := range parsed.UsageMetadata.PromptTokensDetails {
		switch strings.ToUpper(detail.Modality) {
		case "AUDIO":
			snapshot.AudioInput += detail.TokenCount
		case "TEXT":
			snapshot.TextInput += detail.TokenCount
		}
	}
	for _, detail := range parsed.UsageMetadata.ResponseTokensDetails {
		switch strings.ToUpper(detail.Modality) {
		case "AUDIO":
			snapshot.AudioOutput += detail.TokenCount
		case "TEXT":
			snapshot.TextOutput += detail.TokenCount
		}
	}
	return snapshot, true
}

// accumulator keeps every usage snapshot seen during a session. The upstream
// reports usage repeatedly; only the sum over all snapshots reflects the
// true total, the last snapshot alone undercounts long sessions.
type accumulator struct {
	mu      sync.Mutex
	current ModalityTokens
	history []ModalityTokens
}

// Observe inspects one upstream frame. A found snapshot replaces the running
// one and is appended to the history.
func (a *accumulator) Observe(frame []byte) bool {
	snapshot, ok := parseUsage(frame)
	if !ok {
		return false
	}
	a.mu.Lock()
	a.current = snapshot
	a.history = append(a.history, snapshot)
	a.mu.Unlock()
	return true
}

// Aggregate sums every observed snapshot.
func (a *accumulator) Aggregate() ModalityTokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total ModalityTokens
	for _, snapshot := range a.history {
		total = total.add(snapshot)
	}
	return total
}

// Current returns the most recent snapshot.
func (a *accumulator) Current() ModalityTokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// isSetupFrame reports whether a caller frame carries a session setup
// payload. The relay owns the handshake; caller-sent setup frames are never
// forwarded upstream.
func isSetupFrame(frame []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	_, ok := probe["setup"]
	return ok
}
