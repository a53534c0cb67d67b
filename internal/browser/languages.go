package browser

import (
	"encoding/json"
	"net/http"

	"github.com/lexiqai/live-tutor/internal/prompt"
)

// LanguagesResponse lists the selectable languages and the UI defaults
type LanguagesResponse struct {
	Languages     []prompt.Language `json:"languages"`
	DefaultNative string            `json:"defaultNative"`
	DefaultTarget string            `json:"defaultTarget"`
}

// LanguagesHandler serves the language catalog as JSON
func LanguagesHandler(catalog *prompt.Catalog, defaultNative, defaultTarget string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LanguagesResponse{
			Languages:     catalog.Languages,
			DefaultNative: defaultNative,
			DefaultTarget: defaultTarget,
		})
	}
}
