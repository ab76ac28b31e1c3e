package api

import (
	"github.com/rlt-tender/tenderguide/internal/answer"
	"github.com/rlt-tender/tenderguide/internal/chatlog"
)

// GenerateRequest is the body of POST /api/generate. Absent fields take the
// edge defaults.
type GenerateRequest struct {
	Question      string   `json:"question"`
	Category      string   `json:"category"`
	Subcat        string   `json:"subcat"`
	Deterministic *bool    `json:"deterministic"`
	MaxNewTokens  *int     `json:"max_new_tokens"`
	MinNewTokens  *int     `json:"min_new_tokens"`
	Temperature   *float32 `json:"temperature"`
	TopP          *float32 `json:"top_p"`
}

// GenerateResponse carries the full answer in Text. Corrections and
// Sources repeat the matching answer sections when the model wrote them.
type GenerateResponse struct {
	OK          bool     `json:"ok"`
	Text        string   `json:"text,omitempty"`
	Corrections string   `json:"corrections,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Cached      bool     `json:"cached,omitempty"`
}

func generateResponse(text string, cached bool) GenerateResponse {
	sec := answer.Split(text)
	return GenerateResponse{
		OK:          true,
		Text:        text,
		Corrections: sec.Corrections,
		Sources:     sec.Sources,
		Cached:      cached,
	}
}

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type ChatSendRequest struct {
	Text string `json:"text"`
	Role string `json:"role"`
}

type ChatSendResponse struct {
	OK      bool   `json:"ok"`
	Skipped string `json:"skipped,omitempty"`
	ID      int64  `json:"id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Text    string `json:"tekst,omitempty"`
}

type HistoryItem struct {
	ID     int64  `json:"id"`
	Text   string `json:"tekst"`
	UserID string `json:"user_id"`
}

type HistoryResponse struct {
	OK    bool          `json:"ok"`
	Items []HistoryItem `json:"items"`
}

func historyItems(entries []chatlog.Entry) []HistoryItem {
	items := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, HistoryItem{ID: e.ID, Text: e.Text, UserID: e.UserID})
	}
	return items
}

type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Version     string `json:"version,omitempty"`
}
