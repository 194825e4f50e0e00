package handler

import (
	"errors"
	"net/http"

	"github.com/clientportal/internal/middleware"
	"github.com/clientportal/internal/model"
	"github.com/clientportal/internal/repository"
	"github.com/clientportal/internal/ws"
	"github.com/go-chi/chi/v5"
)

// ProjectHandler отдаёт проекты и снапшоты присутствия их комнат.
type ProjectHandler struct {
	projectRepo *repository.ProjectRepository
	hub         *ws.Hub
}

func NewProjectHandler(projectRepo *repository.ProjectRepository, hub *ws.Hub) *ProjectHandler {
	return &ProjectHandler{projectRepo: projectRepo, hub: hub}
}

// ListMyProjects возвращает проекты фрилансера из сессии.
func (h *ProjectHandler) ListMyProjects(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id.UserID == "" || id.UserType != string(model.SenderFreelancer) {
		writeError(w, http.StatusForbidden, "freelancer session required")
		return
	}
	projects, err := h.projectRepo.ListByFreelancer(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// GetProject возвращает проект после проверки доступа.
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	id := middleware.GetIdentity(r.Context())

	ok, err := h.projectRepo.HasAccess(r.Context(), projectID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to project")
		return
	}
	p, err := h.projectRepo.GetByID(r.Context(), projectID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ResolveShareToken — вход клиента: токен из ссылки обменивается на проект.
func (h *ProjectHandler) ResolveShareToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	p, err := h.projectRepo.GetByShareToken(r.Context(), token)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "invalid share link")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to resolve share link")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPresence возвращает снапшот присутствия комнаты проекта (HTTP-зеркало
// события presence_update для страниц без живого соединения).
func (h *ProjectHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	id := middleware.GetIdentity(r.Context())

	ok, err := h.projectRepo.HasAccess(r.Context(), projectID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check access")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to project")
		return
	}
	writeJSON(w, http.StatusOK, ws.PresenceUpdatePayload{
		ProjectID: projectID,
		Users:     h.hub.Presence().Room(projectID),
	})
}
