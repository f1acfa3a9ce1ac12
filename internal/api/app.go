package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/nyaysaathi/internal/counsel"
	"github.com/kalambet/nyaysaathi/internal/document"
	"github.com/kalambet/nyaysaathi/internal/drafting"
	"github.com/kalambet/nyaysaathi/internal/engine"
	"github.com/kalambet/nyaysaathi/internal/session"
	"github.com/kalambet/nyaysaathi/internal/storage"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 10 << 20 // 10MB
	defaultListLimit   = 20
	maxListLimit       = 200
)

// PassageCounter reports the size of the guidance index.
type PassageCounter interface {
	Count() (int, error)
}

type AppDeps struct {
	Token     string
	Sessions  *session.Manager
	Counsel   *counsel.Service
	Catalog   *drafting.Catalog
	Generator *drafting.Generator
	Store     *storage.Store

	// Engine, Backend and ChatModel feed /status. Engine may be nil.
	Engine    engine.Engine
	Backend   string
	ChatModel string
	Passages  PassageCounter // optional

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewAppHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Post("/sessions/{id}/reset", handleResetSession(deps))
		r.Post("/sessions/{id}/document", handleUploadDocument(deps))
		r.Post("/sessions/{id}/explain", handleExplain(deps))
		r.Post("/sessions/{id}/ask", handleAsk(deps))
		r.Get("/sessions/{id}/history", handleHistory(deps))

		r.Get("/templates", handleListTemplates(deps))
		r.Post("/templates/{name}/fill", handleFillTemplate(deps))

		r.Get("/draft-kinds", handleListKinds(deps))
		r.Post("/drafts", handleCreateDraft(deps))
		r.Get("/drafts", handleListDrafts(deps))
		r.Get("/drafts/{id}", handleGetDraft(deps))

		r.Get("/consultations", handleListConsultations(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// StatusReport is the body of GET /status.
type StatusReport struct {
	Backend       string `json:"backend"`
	EngineRunning bool   `json:"engine_running"`
	ChatModel     string `json:"chat_model,omitempty"`
	ModelReady    bool   `json:"model_ready"`
	Passages      int    `json:"passages"`
	PassagesError string `json:"passages_error,omitempty"`
	Sessions      int    `json:"sessions"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := StatusReport{Backend: deps.Backend, ChatModel: deps.ChatModel, Sessions: deps.Sessions.Len()}

		// Each probe writes its own fields.
		g, ctx := errgroup.WithContext(r.Context())
		if deps.Engine != nil {
			g.Go(func() error {
				rep.EngineRunning = deps.Engine.IsRunning(ctx)
				if rep.EngineRunning && deps.ChatModel != "" {
					rep.ModelReady = deps.Engine.HasModel(ctx, deps.ChatModel)
				}
				return nil
			})
		}
		if deps.Passages != nil {
			g.Go(func() error {
				n, err := deps.Passages.Count()
				if err != nil {
					rep.PassagesError = err.Error()
					return nil
				}
				rep.Passages = n
				return nil
			})
		}
		g.Wait()

		writeJSON(w, http.StatusOK, rep)
	}
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		writeJSON(w, http.StatusCreated, sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt})
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleResetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Reset(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DocumentInfo describes an uploaded document without its text.
type DocumentInfo struct {
	Name  string        `json:"name"`
	Kind  document.Kind `json:"kind"`
	Hash  string        `json:"hash"`
	Pages int           `json:"pages,omitempty"`
	Chars int           `json:"chars"`
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()
		data, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "document larger than %d bytes", tooLarge.Limit)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request body is empty")
			return
		}

		name := r.URL.Query().Get("name")
		if name == "" {
			name = "upload"
		}
		doc, err := document.Extract(name, r.Header.Get("Content-Type"), data)
		if err != nil {
			writeError(w, err)
			return
		}

		sess.SetDocument(session.Document{Name: doc.Name, Text: doc.Text, Hash: doc.Hash})
		writeJSON(w, http.StatusOK, DocumentInfo{
			Name:  doc.Name,
			Kind:  doc.Kind,
			Hash:  doc.Hash,
			Pages: doc.Pages,
			Chars: len([]rune(doc.Text)),
		})
	}
}

func handleExplain(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		exp, err := deps.Counsel.Explain(r.Context(), sess)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, exp)
	}
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req askRequest
		if !decodeBody(w, r, &req) {
			return
		}
		ans, err := deps.Counsel.Ask(r.Context(), sess, req.Question)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": sess.History(0)})
	}
}

func handleListTemplates(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"templates": deps.Catalog.Templates})
	}
}

type valuesRequest struct {
	Kind   string            `json:"kind,omitempty"`
	Values map[string]string `json:"values"`
}

// FilledResponse is a filled template with the ID it was saved under.
type FilledResponse struct {
	ID string `json:"id"`
	drafting.Filled
}

func handleFillTemplate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := deps.Catalog.Template(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, err)
			return
		}

		var req valuesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := drafting.Validate(tpl.Fields(), req.Values); err != nil {
			writeError(w, err)
			return
		}

		filled := drafting.Fill(tpl, req.Values, deps.Now())
		id, err := saveDraft(deps.Store, deps.Now(), tpl.Name, req.Values, filled.Preview, filled.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, FilledResponse{ID: id, Filled: filled})
	}
}

func handleListKinds(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"kinds": deps.Catalog.Kinds})
	}
}

// DraftResponse is a stored draft.
type DraftResponse struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	HTML      string            `json:"html,omitempty"`
	Text      string            `json:"text"`
	CreatedAt time.Time         `json:"created_at"`
}

func handleCreateDraft(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req valuesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		kind, err := deps.Catalog.Kind(req.Kind)
		if err != nil {
			writeError(w, err)
			return
		}

		d, err := deps.Generator.Draft(r.Context(), kind, req.Values)
		if err != nil {
			writeError(w, err)
			return
		}
		id, err := saveDraft(deps.Store, deps.Now(), kind.Name, req.Values, d.HTML, d.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, DraftResponse{
			ID: id, Kind: kind.Name, Fields: req.Values, HTML: d.HTML, Text: d.Text, CreatedAt: deps.Now().UTC(),
		})
	}
}

func handleListDrafts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drafts, err := deps.Store.ListDrafts(listLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]DraftResponse, len(drafts))
		for i, d := range drafts {
			out[i] = toDraftResponse(d)
			// Listings carry text only.
			out[i].HTML = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"drafts": out})
	}
}

func handleGetDraft(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Store.GetDraft(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDraftResponse(d))
	}
}

// ConsultationResponse is one answered question from the log.
type ConsultationResponse struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}

func handleListConsultations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs, err := deps.Store.RecentConsultations(listLimit(r))
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]ConsultationResponse, len(cs))
		for i, c := range cs {
			out[i] = ConsultationResponse{
				ID: c.ID, SessionID: c.SessionID, Question: c.Question, Answer: c.Answer, CreatedAt: c.CreatedAt,
			}
			if err := json.Unmarshal([]byte(c.Sources), &out[i].Sources); err != nil {
				out[i].Sources = nil
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"consultations": out})
	}
}

func saveDraft(store *storage.Store, now time.Time, kind string, values map[string]string, html, text string) (string, error) {
	fields, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	err = store.SaveDraft(storage.Draft{
		ID:        id,
		Kind:      kind,
		Fields:    string(fields),
		HTML:      html,
		Text:      text,
		CreatedAt: now.UTC(),
	})
	return id, err
}

func toDraftResponse(d storage.Draft) DraftResponse {
	resp := DraftResponse{ID: d.ID, Kind: d.Kind, HTML: d.HTML, Text: d.Text, CreatedAt: d.CreatedAt}
	if err := json.Unmarshal([]byte(d.Fields), &resp.Fields); err != nil {
		resp.Fields = nil
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func listLimit(r *http.Request) int {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}
