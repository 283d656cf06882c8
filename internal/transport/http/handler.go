package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/postgres"
	httpmw "github.com/cwrk-planet/docsync/internal/transport/http/middleware"
	"github.com/cwrk-planet/docsync/pkg/errs"
	"github.com/cwrk-planet/docsync/pkg/httputil"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

type DocumentRepo interface {
	Get(ctx context.Context, id string) (*domain.Document, error)
	Create(ctx context.Context, d *domain.Document) error
	UpdateContent(ctx context.Context, id, userID, content string) error
}

// Handler serves the document API used to fetch and save persisted snapshots.
type Handler struct {
	docs DocumentRepo
}

func NewHandler(docs DocumentRepo) *Handler {
	return &Handler{docs: docs}
}

// DocumentItem keeps the field names existing document clients read.
type DocumentItem struct {
	ID      string    `json:"_id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	User    string    `json:"user,omitempty"`
	Date    time.Time `json:"date"`
}

type getDocRequest struct {
	ID string `json:"id"`
}

type updateDocRequest struct {
	ID      string `json:"_id"`
	Content string `json:"content"`
}

type createDocRequest struct {
	Title  string `json:"title"`
	RoomID string `json:"roomId"`
}

func toItem(d *domain.Document) DocumentItem {
	return DocumentItem{ID: d.ID, Title: d.Title, Content: d.Content, User: d.OwnerID, Date: d.CreatedAt}
}

// GET /doc/getdoc?id=  (POST with {"id"} is accepted too)
func (h *Handler) GetDoc(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" && r.Method == http.MethodPost {
		var req getDocRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			id = strings.TrimSpace(req.ID)
		}
	}
	if id == "" {
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "id must not be empty")
		return
	}

	doc, err := h.docs.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "handler.GetDoc", err)
		return
	}
	httputil.OK(w, toItem(doc))
}

// POST /doc/createdoc
func (h *Handler) CreateDoc(w http.ResponseWriter, r *http.Request) {
	var req createDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "invalid json")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.RoomID = strings.TrimSpace(req.RoomID)
	switch {
	case req.Title == "":
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "title not be empty")
		return
	case req.RoomID == "":
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "roomId not be empty")
		return
	}

	doc := &domain.Document{
		ID:      req.RoomID,
		OwnerID: httpmw.UserIDFromCtx(r.Context()),
		Title:   req.Title,
	}
	if err := h.docs.Create(r.Context(), doc); err != nil {
		h.fail(w, r, "handler.CreateDoc", err)
		return
	}
	httputil.JSON(w, http.StatusCreated, httputil.Envelope{Success: true, Response: toItem(doc)})
}

// POST /doc/updatedoc
func (h *Handler) UpdateDoc(w http.ResponseWriter, r *http.Request) {
	var req updateDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "invalid json")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		httputil.Error(w, http.StatusBadRequest, "Validation failed", "_id must not be empty")
		return
	}

	userID := httpmw.UserIDFromCtx(r.Context())
	if err := h.docs.UpdateContent(r.Context(), req.ID, userID, req.Content); err != nil {
		h.fail(w, r, "handler.UpdateDoc", err)
		return
	}
	httputil.OK(w, map[string]any{"_id": req.ID, "modified": true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	mapped := mapError(err)
	status := errs.ToHTTP(mapped)

	l := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		l.Error(op, logger.Err(err))
	} else {
		l.Debug(op, slog.Int("status", status), logger.Err(err))
	}

	switch status {
	case http.StatusNotFound:
		httputil.Error(w, status, "Not Found", "document does not exist")
	case http.StatusForbidden:
		httputil.Error(w, status, "Invalid Access", "You don't have access to perform this operation")
	case http.StatusConflict:
		httputil.Error(w, status, "Conflict", "document already exists")
	default:
		httputil.Error(w, status, "Internal Server Error", "")
	}
}

func mapError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		return errs.ErrNotFound
	case errors.Is(err, domain.ErrDocumentAccess):
		return errs.ErrForbidden
	case errors.Is(err, postgres.ErrDocumentExists):
		return errs.ErrConflict
	default:
		return err
	}
}

// StatsSource is implemented by *registry.Registry.
type StatsSource interface {
	Stats() (rooms, conns int)
}

type statsResponse struct {
	Rooms             int `json:"rooms"`
	Connections       int `json:"connections"`
	UpdateRooms       int `json:"updateRooms"`
	UpdateConnections int `json:"updateConnections"`
}

func statsHandler(events, updates StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statsResponse
		resp.Rooms, resp.Connections = events.Stats()
		resp.UpdateRooms, resp.UpdateConnections = updates.Stats()
		httputil.JSON(w, http.StatusOK, resp)
	}
}
