package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"meshreg/internal/models"
	"meshreg/internal/repo"
	"meshreg/internal/scheduler"
)

// Handler — тонкий ресурсный слой: распаковать запрос, дёрнуть движок,
// отмапить ошибку. Вся логика — в repo/monitoring/mail/scheduler.
type Handler struct {
	nodes  *repo.NodeStore
	states *repo.StateStore
	mails  *repo.MailStore
	sched  *scheduler.Scheduler
}

func New(nodes *repo.NodeStore, states *repo.StateStore, mails *repo.MailStore, sched *scheduler.Scheduler) *Handler {
	return &Handler{nodes: nodes, states: states, mails: mails, sched: sched}
}

type nodeRequest struct {
	Nickname   string `json:"nickname"`
	Email      string `json:"email"`
	Hostname   string `json:"hostname"`
	Coords     string `json:"coords"`
	Key        string `json:"key"`
	MAC        string `json:"mac"`
	Monitoring bool   `json:"monitoring"`
}

func (r *nodeRequest) input() repo.NodeInput {
	return repo.NodeInput{
		Nickname:   r.Nickname,
		Email:      r.Email,
		Hostname:   r.Hostname,
		Coords:     r.Coords,
		FastdKey:   r.Key,
		MAC:        r.MAC,
		Monitoring: r.Monitoring,
	}
}

// nodeSummary — вид для списков: без token (секрет владельца наружу
// списками не отдаём никогда).
type nodeSummary struct {
	Nickname        string    `json:"nickname"`
	Hostname        string    `json:"hostname"`
	Email           string    `json:"email"`
	MAC             string    `json:"mac"`
	MonitoringState string    `json:"monitoring_state"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func summarize(n *models.Node) nodeSummary {
	return nodeSummary{
		Nickname:        n.Nickname,
		Hostname:        n.Hostname,
		Email:           n.Email,
		MAC:             n.MAC,
		MonitoringState: n.MonitoringState,
		UpdatedAt:       n.UpdatedAt,
	}
}

// -------- Узлы --------

// POST /api/node
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	n, err := h.nodes.Create(r.Context(), req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, n)
}

// PUT /api/node/{token}
func (h *Handler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	var req nodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid json body", nil)
		return
	}
	n, err := h.nodes.Update(r.Context(), mux.Vars(r)["token"], req.input())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, n)
}

// GET /api/node/{token}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.nodes.GetByToken(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, n)
}

// DELETE /api/node/{token}
func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.nodes.Delete(r.Context(), mux.Vars(r)["token"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/node — админский список, без секретов.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.nodes.ListAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]nodeSummary, 0, len(nodes))
	for i := range nodes {
		out = append(out, summarize(&nodes[i]))
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// -------- Мониторинг --------

// PUT /api/monitoring/confirm/{token}
func (h *Handler) ConfirmMonitoring(w http.ResponseWriter, r *http.Request) {
	n, err := h.nodes.ConfirmMonitoring(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, summarize(n))
}

// PUT /api/monitoring/disable/{token}
func (h *Handler) DisableMonitoring(w http.ResponseWriter, r *http.Request) {
	n, err := h.nodes.DisableMonitoring(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, summarize(n))
}

// POST /api/monitoring/state — пачка записей состояний по списку MAC.
func (h *Handler) StateByMACs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MACs []string `json:"macs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MACs) == 0 {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "expected non-empty macs list", nil)
		return
	}
	macs := make([]string, 0, len(req.MACs))
	for _, m := range req.MACs {
		norm, err := models.NormalizeMAC(m)
		if err != nil {
			models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
			return
		}
		macs = append(macs, norm)
	}
	recs, err := h.states.GetByMACs(r.Context(), macs)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, recs)
}

// -------- Очередь писем (админ) --------

func (h *Handler) ListMail(w http.ResponseWriter, r *http.Request) {
	mails, err := h.mails.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, mails)
}

func (h *Handler) GetMail(w http.ResponseWriter, r *http.Request) {
	id, ok := mailID(w, r)
	if !ok {
		return
	}
	m, err := h.mails.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteMail(w http.ResponseWriter, r *http.Request) {
	id, ok := mailID(w, r)
	if !ok {
		return
	}
	if err := h.mails.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetMailFailures(w http.ResponseWriter, r *http.Request) {
	id, ok := mailID(w, r)
	if !ok {
		return
	}
	if err := h.mails.ResetFailures(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func mailID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid mail id", nil)
		return 0, false
	}
	return uint(id), true
}

// -------- Задачи планировщика (админ) --------

func (h *Handler) ListTasks(w http.ResponseWriter, _ *http.Request) {
	models.WriteJSON(w, http.StatusOK, h.sched.List())
}

func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.RunNow(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) EnableTask(w http.ResponseWriter, r *http.Request)  { h.setTask(w, r, true) }
func (h *Handler) DisableTask(w http.ResponseWriter, r *http.Request) { h.setTask(w, r, false) }

func (h *Handler) setTask(w http.ResponseWriter, r *http.Request, on bool) {
	id := mux.Vars(r)["id"]
	if err := h.sched.SetEnabled(id, on); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.sched.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, snap)
}

// -------- Маппинг ошибок --------

func writeError(w http.ResponseWriter, err error) {
	var conflict *repo.ConflictError
	switch {
	case errors.As(err, &conflict):
		models.WriteProblem(w, http.StatusConflict, "Conflict", conflict.Error(),
			map[string]any{"field": conflict.Field})
	case errors.Is(err, repo.ErrNotFound),
		errors.Is(err, repo.ErrMailNotFound),
		errors.Is(err, scheduler.ErrTaskNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", err.Error(), nil)
	case errors.Is(err, repo.ErrBadRequest), errors.Is(err, repo.ErrBadToken):
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", err.Error(), nil)
	default:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
	}
}
