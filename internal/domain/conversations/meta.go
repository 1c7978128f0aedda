package conversations

import (
	"encoding/json"

	"github.com/Spok95/repair-bot/internal/dialog"
)

// meta — служебная часть состояния диалога, хранится в dialog_meta jsonb.
type meta struct {
	Confidence map[dialog.Field]float64 `json:"confidence,omitempty"`
	Skipped    []dialog.Field           `json:"skipped,omitempty"`
	Retries    int                      `json:"retries,omitempty"`
	LastPrompt dialog.Prompt            `json:"last_prompt"`
}

func encodeMeta(st dialog.State) ([]byte, error) {
	return json.Marshal(meta{
		Confidence: st.Confidence,
		Skipped:    st.Skipped,
		Retries:    st.Retries,
		LastPrompt: st.LastPrompt,
	})
}

func decodeMeta(raw []byte, st *dialog.State) error {
	var m meta
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
	}
	st.Confidence = m.Confidence
	if st.Confidence == nil {
		st.Confidence = map[dialog.Field]float64{}
	}
	st.Skipped = m.Skipped
	st.Retries = m.Retries
	st.LastPrompt = m.LastPrompt
	return nil
}
