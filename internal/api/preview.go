package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/jra3/metafs-projector/internal/rules"
)

const defaultPreviewLimit = 100

type previewRequest struct {
	Rules []rules.Rule `json:"rules,omitempty"`
	Limit int          `json:"limit,omitempty"`
}

type filePreview struct {
	SourcePath         string `json:"sourcePath"`
	CurrentVirtualPath string `json:"currentVirtualPath"`
	NewVirtualPath     string `json:"newVirtualPath"`
	MatchedRuleID      string `json:"matchedRuleId,omitempty"`
}

type previewResponse struct {
	Previews []filePreview `json:"previews"`
	Total    int           `json:"total"`
	Limited  bool          `json:"limited"`
}

// handleRulesPreview implements spec.md §4.7/§6: evaluate a caller-supplied
// rule list (or, if omitted, the live config) against up to limit known
// files, sampled by enumeration order, without mutating any state.
// Responses are cached briefly since evaluating a full rule set against
// many files is the most expensive read path this API exposes.
func (s *Server) handleRulesPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPreviewLimit
	}

	key := previewCacheKey(req, limit)
	if cached, ok := s.previewCache.Get(key); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	cfg := s.currentConfig()
	if len(req.Rules) > 0 {
		cfg = cfg.Clone()
		cfg.Rules = req.Rules
	}
	evaluator := rules.NewEvaluator(cfg)

	allFiles := s.tree.GetAllFiles()
	total := len(allFiles)
	sample := allFiles
	limited := false
	if len(sample) > limit {
		sample = sample[:limit]
		limited = true
	}

	previews := make([]filePreview, 0, len(sample))
	for _, currentPath := range sample {
		md, ok := s.tree.GetMetadata(currentPath)
		if !ok {
			continue
		}
		result := evaluator.Resolve(md.Extras)
		readRes, _ := s.tree.Read(currentPath)
		previews = append(previews, filePreview{
			SourcePath:         readRes.SourcePath,
			CurrentVirtualPath: currentPath,
			NewVirtualPath:     result.Path,
			MatchedRuleID:      result.MatchedRule,
		})
	}

	resp := previewResponse{Previews: previews, Total: total, Limited: limited}
	s.previewCache.Set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

func previewCacheKey(req previewRequest, limit int) string {
	data, _ := json.Marshal(struct {
		Rules []rules.Rule `json:"rules"`
		Limit int          `json:"limit"`
	}{Rules: req.Rules, Limit: limit})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
