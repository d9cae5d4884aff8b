package httpapi

import (
	"net/http"
	"sort"
	"strings"
)

type voiceSummary struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
}

type listVoicesResponse struct {
	Engine         string         `json:"engine,omitempty"`
	DefaultVoiceID string         `json:"default_voice_id"`
	Voices         []voiceSummary `json:"voices"`
}

// handleListVoices reports what the configured engine can render. The set is
// queried live so remote engines surface newly added voices without a restart.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondJSON(w, http.StatusOK, listVoicesResponse{
			DefaultVoiceID: s.cfg.DefaultVoice,
			Voices:         []voiceSummary{},
		})
		return
	}

	voices, err := s.engine.Voices(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "voices_unavailable", err.Error())
		return
	}

	out := make([]voiceSummary, 0, len(voices))
	for _, v := range voices {
		item := voiceSummary{
			VoiceID:  strings.TrimSpace(v.ID),
			Name:     strings.TrimSpace(v.Name),
			Language: strings.TrimSpace(v.Language),
		}
		if item.VoiceID == "" {
			continue
		}
		if item.Name == "" {
			item.Name = item.VoiceID
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})

	respondJSON(w, http.StatusOK, listVoicesResponse{
		Engine:         s.engine.Name(),
		DefaultVoiceID: s.cfg.DefaultVoice,
		Voices:         out,
	})
}
