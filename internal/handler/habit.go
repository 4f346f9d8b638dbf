package handler

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"habitly/internal/httputil"
	"habitly/internal/logging"
	"habitly/internal/model"
)

// HabitHandler serves habit CRUD and check-ins for the authenticated owner.
type HabitHandler struct {
	habitService habitService
	log          *logrus.Entry
}

func NewHabitHandler(habitService habitService) *HabitHandler {
	return &HabitHandler{
		habitService: habitService,
		log:          logging.For("HabitHandler"),
	}
}

// Create handles POST /habits
func (h *HabitHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req model.CreateHabitRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	habit, err := h.habitService.Create(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, r, h.log, "create habit", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, habit)
}

// List handles GET /habits
func (h *HabitHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	habits, err := h.habitService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, "list habits", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.HabitListResponse{Habits: habits})
}

// Get handles GET /habits/{id}
func (h *HabitHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}

	habit, err := h.habitService.Get(r.Context(), userID, habitID)
	if err != nil {
		writeServiceError(w, r, h.log, "get habit", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, habit)
}

// Update handles PUT /habits/{id}
func (h *HabitHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}

	var req model.UpdateHabitRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	habit, err := h.habitService.Update(r.Context(), userID, habitID, &req)
	if err != nil {
		writeServiceError(w, r, h.log, "update habit", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, habit)
}

// Delete handles DELETE /habits/{id}
func (h *HabitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}

	if err := h.habitService.Delete(r.Context(), userID, habitID); err != nil {
		writeServiceError(w, r, h.log, "delete habit", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Habit deleted",
	})
}

// CheckIn handles POST /habits/{id}/checkin. The notes body is optional.
func (h *HabitHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}

	var req model.CheckInRequest
	if err := httputil.DecodeJSON(w, r, &req, true); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	completion, err := h.habitService.CheckIn(r.Context(), userID, habitID, req.Notes)
	if err != nil {
		writeServiceError(w, r, h.log, "check in", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, completion)
}

// UndoCheckIn handles DELETE /habits/{id}/checkin
func (h *HabitHandler) UndoCheckIn(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}

	if err := h.habitService.UndoCheckIn(r.Context(), userID, habitID); err != nil {
		writeServiceError(w, r, h.log, "undo check-in", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Check-in removed",
	})
}

// History handles GET /habits/{id}/completions?limit=
func (h *HabitHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, habitID, ok := h.ownerAndHabit(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	completions, err := h.habitService.History(r.Context(), userID, habitID, limit)
	if err != nil {
		writeServiceError(w, r, h.log, "list completions", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string][]model.Completion{
		"completions": completions,
	})
}

func (h *HabitHandler) ownerAndHabit(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return 0, 0, false
	}
	habitID, ok := pathID(w, r, "id", "habit")
	if !ok {
		return 0, 0, false
	}
	return userID, habitID, true
}
