package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/promptgate/promptgate/internal/journal"
	"github.com/promptgate/promptgate/internal/router"
)

// jsonError writes a JSON-encoded error response with the given status code.
// Response body format: {"error": "<msg>"}
func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// appendHistory records the outcome of one generate call in the
// user-visible history document. Best-effort: failures are logged and the
// response already on its way is unaffected.
func appendHistory(d Dependencies, prompt string, opts router.GenerateOptions, resp router.Response) {
	if d.History == nil || !d.History.Enabled() {
		return
	}

	entry := journal.NewEntry()
	entry.Prompt = prompt
	entry.MaxTokens = opts.MaxTokens
	entry.Temperature = opts.Temperature
	entry.Model = opts.Model
	entry.Success = resp.Success
	entry.Provider = resp.Provider
	entry.Content = resp.Content
	entry.Error = resp.Error
	entry.Cost = resp.Cost
	entry.DurationMs = resp.Duration.Milliseconds()

	err := journal.Update(d.History, func(doc *journal.Document) {
		doc.Append(entry)
	})
	if err != nil {
		d.Log.Warn("history update failed", "error", err)
	}
}
