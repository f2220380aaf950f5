package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"wetmill_sms/internal/app"
	"wetmill_sms/internal/domain/message"
)

// AdminAPI is the admin surface behind the bearer token.
type AdminAPI interface {
	Reports(ctx context.Context) ([]app.ReportStatus, error)
	SeasonEnd(ctx context.Context, broadcastID, wetmillID, seasonID int64) (int, error)
	ScheduleBroadcast(ctx context.Context, b *message.Broadcast) error
}

type API struct {
	Admin  AdminAPI
	Logger *logrus.Entry
}

type reportView struct {
	Slug             string     `json:"slug"`
	Name             string     `json:"name"`
	Day              string     `json:"day"`
	Hour             int        `json:"hour"`
	IsActive         bool       `json:"is_active"`
	Registered       bool       `json:"registered"`
	LastDispatchedAt *time.Time `json:"last_dispatched_at,omitempty"`
}

type seasonEndRequest struct {
	WetmillID int64 `json:"wetmill_id"`
	SeasonID  int64 `json:"season_id"`
}

type seasonEndResponse struct {
	Sent int `json:"sent"`
}

type broadcastRequest struct {
	Recipients        string     `json:"recipients"`
	CountryID         int64      `json:"country_id"`
	WetmillIDs        []int64    `json:"wetmill_ids"`
	CSPIDs            []int64    `json:"csp_ids"`
	ExcludeWetmillIDs []int64    `json:"exclude_wetmill_ids"`
	ExcludeCSPIDs     []int64    `json:"exclude_csp_ids"`
	ReportSeasonID    *int64     `json:"report_season_id"`
	SMSSeasonID       *int64     `json:"sms_season_id"`
	Text              string     `json:"text"`
	SendOn            *time.Time `json:"send_on"`
}

func (req broadcastRequest) broadcast() *message.Broadcast {
	b := &message.Broadcast{
		Recipients:        req.Recipients,
		CountryID:         req.CountryID,
		WetmillIDs:        req.WetmillIDs,
		CSPIDs:            req.CSPIDs,
		ExcludeWetmillIDs: req.ExcludeWetmillIDs,
		ExcludeCSPIDs:     req.ExcludeCSPIDs,
		Text:              req.Text,
	}
	if b.Recipients == "" {
		b.Recipients = "A"
	}
	if req.ReportSeasonID != nil {
		b.ReportSeasonID = sql.NullInt64{Int64: *req.ReportSeasonID, Valid: true}
	}
	if req.SMSSeasonID != nil {
		b.SMSSeasonID = sql.NullInt64{Int64: *req.SMSSeasonID, Valid: true}
	}
	if req.SendOn != nil {
		b.SendOn = sql.NullTime{Time: *req.SendOn, Valid: true}
	}
	return b
}

type broadcastResponse struct {
	ID int64 `json:"id"`
}

// Register mounts the admin routes on a router already prefixed with /v1.
func (a *API) Register(mux *mux.Router) {
	mux.HandleFunc("/reports", a.handleListReports).Methods(http.MethodGet)
	mux.HandleFunc("/season-end/{id}/send", a.handleSendSeasonEnd).Methods(http.MethodPost)
	mux.HandleFunc("/broadcasts", a.handleScheduleBroadcast).Methods(http.MethodPost)
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := a.Admin.Reports(r.Context())
	if err != nil {
		a.Logger.WithError(err).Error("list reports failed")
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	out := make([]reportView, len(reports))
	for i, s := range reports {
		v := reportView{
			Slug:       s.Report.Slug,
			Name:       s.Report.Name,
			Day:        string(s.Report.Day),
			Hour:       s.Report.Hour,
			IsActive:   s.Report.IsActive,
			Registered: s.Registered,
		}
		if s.Report.LastDispatchedAt.Valid {
			t := s.Report.LastDispatchedAt.Time
			v.LastDispatchedAt = &t
		}
		out[i] = v
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSendSeasonEnd(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, ErrInvalidID, http.StatusBadRequest)
		return
	}
	var req seasonEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.WetmillID <= 0 || req.SeasonID <= 0 {
		http.Error(w, "wetmill_id and season_id are required", http.StatusBadRequest)
		return
	}

	sent, err := a.Admin.SeasonEnd(r.Context(), id, req.WetmillID, req.SeasonID)
	if errors.Is(err, app.ErrBroadcastUnknown) {
		http.Error(w, ErrNotFound, http.StatusNotFound)
		return
	}
	if err != nil {
		a.Logger.WithError(err).WithFields(logrus.Fields{
			"broadcast_id": id,
			"wetmill_id":   req.WetmillID,
			"season_id":    req.SeasonID,
		}).Error("season-end broadcast failed")
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, seasonEndResponse{Sent: sent})
}

func (a *API) handleScheduleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid broadcast", http.StatusBadRequest)
		return
	}

	b := req.broadcast()
	if err := b.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.Admin.ScheduleBroadcast(r.Context(), b); err != nil {
		a.Logger.WithError(err).WithField("country_id", b.CountryID).Error("scheduling broadcast failed")
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, broadcastResponse{ID: b.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
