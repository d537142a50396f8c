package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Spok95/school-roster/internal/ctxutil"
	"github.com/Spok95/school-roster/internal/export"
	"github.com/Spok95/school-roster/internal/lifecycle"
	"github.com/Spok95/school-roster/internal/metrics"
	"github.com/Spok95/school-roster/internal/models"
	"github.com/Spok95/school-roster/internal/observability"
	"github.com/Spok95/school-roster/internal/policy"
	"github.com/Spok95/school-roster/internal/roster"
)

const (
	headerActor     = "X-Actor-ID"
	headerRequestID = "X-Request-ID"
	contentXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, classID string, studentIDs []string, teacherID *string) (models.ReconciliationResult, error)
}

type Lifecycle interface {
	Transition(ctx context.Context, entity models.EntityType, id string, mode models.Mode, actor string) error
	Check(ctx context.Context, entity models.EntityType, id string, mode models.Mode) (models.PolicyResult, error)
}

type Classes interface {
	FindByID(ctx context.Context, classID string) (*models.ClassSection, error)
	SetStatus(ctx context.Context, classID string, status models.ClassStatus) (bool, error)
}

type Deps struct {
	Ping      Pinger // nil — хранилище в памяти, проверять нечего
	Roster    Reconciler
	Lifecycle Lifecycle
	Classes   Classes
	Log       *zap.Logger
}

type handler struct {
	Deps
}

// NewHandler — HTTP-поверхность движка: состав класса и переходы жизненного цикла.
func NewHandler(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &handler{Deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /classes/{id}", h.getClass)
	mux.HandleFunc("PUT /classes/{id}/roster", h.putRoster)
	mux.HandleFunc("POST /classes/{id}/status", h.postStatus)

	mux.HandleFunc("GET /lifecycle/{entity}/{id}/policy", h.getPolicy)
	mux.HandleFunc("POST /lifecycle/{entity}/{id}/{mode}", h.postTransition)

	return withRequestContext(mux)
}

// withRequestContext кладёт в контекст id запроса и актёра из заголовков.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(headerRequestID, rid)
		ctx := ctxutil.WithRequestID(r.Context(), rid)
		if actor := r.Header.Get(headerActor); actor != "" {
			ctx = ctxutil.WithActorID(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		t0 := time.Now()
		if err := h.Ping.PingContext(ctx); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		metrics.ObserveDBPing(time.Since(t0))
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) getClass(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.Classes.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "class not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type rosterRequest struct {
	StudentIDs []string `json:"student_ids"`
	TeacherID  *string  `json:"teacher_id"`
}

func (h *handler) putRoster(w http.ResponseWriter, r *http.Request) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	for _, sid := range req.StudentIDs {
		if _, err := uuid.Parse(sid); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad student id %q", sid))
			return
		}
	}
	if req.TeacherID != nil && *req.TeacherID != "" {
		if _, err := uuid.Parse(*req.TeacherID); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad teacher id %q", *req.TeacherID))
			return
		}
	}

	ctx := ctxutil.WithOp(r.Context(), "reconcile_roster")
	res, err := h.Roster.Reconcile(ctx, classID, req.StudentIDs, req.TeacherID)
	if err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		wb, err := export.ReconciliationWorkbook(res)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Content-Type", contentXLSX)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.RosterFilename(classID, time.Now())))
		if _, err := wb.WriteTo(w); err != nil {
			h.Log.Warn("write xlsx", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statusRequest struct {
	Status models.ClassStatus `json:"status"`
}

// postStatus — архивирование/активация класса; это не удаление и политик не проходит.
func (h *handler) postStatus(w http.ResponseWriter, r *http.Request) {
	classID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json: "+err.Error())
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad status %q", req.Status))
		return
	}
	ok, err := h.Classes.SetStatus(r.Context(), classID, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "class not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	entity, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	mode, err := models.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.Lifecycle.Check(r.Context(), entity, id, mode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) postTransition(w http.ResponseWriter, r *http.Request) {
	entity, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	mode, err := models.ParseMode(r.PathValue("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := ctxutil.WithOp(r.Context(), "lifecycle_"+string(mode))
	if err := h.Lifecycle.Transition(ctx, entity, id, mode, ""); err != nil {
		h.fail(w, r.WithContext(ctx), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail переводит ошибки домена в коды; всё остальное — сбой, уходит в Sentry.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var denied *models.PolicyDeniedError
	switch {
	case errors.As(err, &denied):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "policy_denied", "denial": denied})
	case errors.Is(err, roster.ErrClassNotFound):
		writeError(w, http.StatusNotFound, "CLASS_NOT_FOUND_OR_DELETED")
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrActorRequired):
		writeError(w, http.StatusBadRequest, "missing "+headerActor)
	case errors.Is(err, policy.ErrUnknownEntity):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		metrics.HandlerErrors.Inc()
		observability.CaptureCtx(r.Context(), err)
		h.Log.Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("bad id %q", id))
		return "", false
	}
	return id, true
}

func pathEntity(w http.ResponseWriter, r *http.Request) (models.EntityType, string, bool) {
	entity, err := models.ParseEntityType(r.PathValue("entity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}
	id, ok := pathID(w, r)
	return entity, id, ok
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
