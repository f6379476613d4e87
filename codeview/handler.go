package codeview

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/dannyswat/htmlstage"
)

type wireToken struct {
	Type  string                `json:"type"`
	Value string                `json:"value"`
	Range htmlstage.SourceRange `json:"range"`
}

// Snapshot is what a code view client fetches to draw the buffer.
type Snapshot struct {
	Version   int                   `json:"version"`
	Text      string                `json:"text"`
	Selection htmlstage.SourceRange `json:"selection"`
	Tokens    []wireToken           `json:"tokens"`
}

// Snapshot returns the buffer's text, selection and highlighted tokens as of
// one version.
func (b *Buffer) Snapshot() (Snapshot, error) {
	b.mu.Lock()
	s := Snapshot{Version: b.version, Text: b.text, Selection: b.sel}
	b.mu.Unlock()

	toks, err := Highlight(s.Text)
	if err != nil {
		return Snapshot{}, err
	}
	s.Tokens = make([]wireToken, len(toks))
	for i, tok := range toks {
		s.Tokens[i] = wireToken{Type: tok.Type.String(), Value: tok.Value, Range: tok.Range}
	}
	return s, nil
}

// ServeHTTP serves the buffer snapshot as JSON.
func (b *Buffer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s, err := b.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}
