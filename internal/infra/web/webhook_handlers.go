// File: internal/infra/web/webhook_handlers.go
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"telegram-image-gen/internal/infra/metrics"
	"telegram-image-gen/internal/usecase"
)

const reconcileTimeout = 5 * time.Minute

// kieCallback mirrors the vendor's completion payload: result urls arrive as
// an escaped JSON document inside data.resultJson.
type kieCallback struct {
	Data struct {
		TaskID     string `json:"taskId"`
		State      string `json:"state"`
		ResultJSON string `json:"resultJson"`
		FailCode   string `json:"failCode"`
		FailMsg    string `json:"failMsg"`
	} `json:"data"`
}

// handleKieWebhook acknowledges every well-formed delivery with 200 so the
// vendor stops retrying; reconciliation outcomes are not its concern.
// Non-terminal states are acknowledged without touching the task; the vendor
// will report again when it settles.
func (s *Server) handleKieWebhook(w http.ResponseWriter, r *http.Request) {
	var cb kieCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		metrics.IncWebhook("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid_json"})
		return
	}
	if cb.Data.TaskID == "" {
		metrics.IncWebhook("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "no_task_id"})
		return
	}

	state := strings.ToLower(cb.Data.State)
	if state != "success" && state != "fail" {
		metrics.IncWebhook("waiting")
		s.log.Info().Str("task_id", cb.Data.TaskID).Str("state", state).Msg("non-terminal webhook acknowledged")
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	var urls []string
	if state == "success" && cb.Data.ResultJSON != "" {
		var rj struct {
			ResultURLs []string `json:"resultUrls"`
		}
		// Best effort; an unparsable resultJson leaves urls empty and the
		// reconciler settles the task without a charge.
		_ = json.Unmarshal([]byte(cb.Data.ResultJSON), &rj)
		urls = rj.ResultURLs
	}

	ev := usecase.CallbackEvent{
		VendorTaskID: cb.Data.TaskID,
		Success:      state == "success",
		ResultURLs:   urls,
		FailCode:     cb.Data.FailCode,
		FailMsg:      cb.Data.FailMsg,
	}

	s.reconcileAsync(ev)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type freepikCallback struct {
	Data struct {
		TaskID    string   `json:"task_id"`
		Status    string   `json:"status"`
		Generated []string `json:"generated"`
	} `json:"data"`
}

func (s *Server) handleFreepikWebhook(w http.ResponseWriter, r *http.Request) {
	var cb freepikCallback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		metrics.IncWebhook("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid_json"})
		return
	}
	if cb.Data.TaskID == "" {
		metrics.IncWebhook("bad_payload")
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "no_task_id"})
		return
	}

	status := strings.ToUpper(cb.Data.Status)
	if status != "COMPLETED" && status != "FAILED" {
		metrics.IncWebhook("waiting")
		s.log.Info().Str("task_id", cb.Data.TaskID).Str("status", status).Msg("non-terminal webhook acknowledged")
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
		return
	}

	ev := usecase.CallbackEvent{
		VendorTaskID: cb.Data.TaskID,
		Success:      status == "COMPLETED",
		ResultURLs:   cb.Data.Generated,
	}
	if !ev.Success {
		ev.FailMsg = cb.Data.Status
	}

	s.reconcileAsync(ev)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// reconcileAsync detaches reconciliation from the HTTP request so slow
// downloads never stall the vendor's delivery loop.
func (s *Server) reconcileAsync(ev usecase.CallbackEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		s.reconciler.Reconcile(ctx, ev)
	}()
}
