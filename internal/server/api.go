package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Tracker is the application-facing surface the API drives.
type Tracker interface {
	PageVisit(ctx context.Context, pageURL, referrer string) bool
	Event(ctx context.Context, name string, args map[string]any) (bool, error)
	ConversionEvent(ctx context.Context, name string, args map[string]any) (bool, error)
	Revenue(ctx context.Context, name, currency, amount string, args map[string]any) (bool, error)
	Login(ctx context.Context, id string)
	Logout(ctx context.Context)
	SetDeviceCustomUserID(ctx context.Context, id string) bool
	GlobalProperties(ctx context.Context) map[string]string
	SetGlobalProperty(ctx context.Context, key, value string)
	ClearGlobalProperties(ctx context.Context)
	MatchID(ctx context.Context) string
	SetMatchID(ctx context.Context, id string) bool
	ClearMatchID(ctx context.Context)
	DeviceID() string
	Unload(ctx context.Context) error
}

type API struct {
	tracker       Tracker
	unloadTimeout time.Duration
}

func NewAPI(tracker Tracker, unloadTimeout time.Duration) *API {
	return &API{tracker: tracker, unloadTimeout: unloadTimeout}
}

type pageVisitRequest struct {
	URL      string `json:"url" validate:"omitempty,url"`
	Referrer string `json:"referrer"`
}

type eventRequest struct {
	Name string         `json:"name" validate:"required"`
	Args map[string]any `json:"args"`
}

type revenueRequest struct {
	Name     string         `json:"name" validate:"required"`
	Currency string         `json:"currency" validate:"required"`
	Amount   json.Number    `json:"amount" validate:"required"`
	Args     map[string]any `json:"args"`
}

type idRequest struct {
	ID string `json:"id" validate:"required"`
}

type propertyRequest struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

type queuedResponse struct {
	Queued bool `json:"queued"`
}

func (a *API) PostPageVisit(w http.ResponseWriter, r *http.Request) {
	var req pageVisitRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.queued(w, a.tracker.PageVisit(r.Context(), req.URL, req.Referrer))
}

func (a *API) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !readJSON(w, r, &req) {
		return
	}
	ok, err := a.tracker.Event(r.Context(), req.Name, req.Args)
	a.result(w, ok, err)
}

func (a *API) PostConversion(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !readJSON(w, r, &req) {
		return
	}
	ok, err := a.tracker.ConversionEvent(r.Context(), req.Name, req.Args)
	a.result(w, ok, err)
}

func (a *API) PostRevenue(w http.ResponseWriter, r *http.Request) {
	var req revenueRequest
	if !readJSON(w, r, &req) {
		return
	}
	ok, err := a.tracker.Revenue(r.Context(), req.Name, req.Currency, req.Amount.String(), req.Args)
	a.result(w, ok, err)
}

func (a *API) PutCustomUserID(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.tracker.Login(r.Context(), req.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) DeleteCustomUserID(w http.ResponseWriter, r *http.Request) {
	a.tracker.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) PostDeviceCustomUserID(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.queued(w, a.tracker.SetDeviceCustomUserID(r.Context(), req.ID))
}

func (a *API) GetGlobalProperties(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.tracker.GlobalProperties(r.Context()))
}

func (a *API) PutGlobalProperty(w http.ResponseWriter, r *http.Request) {
	var req propertyRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.tracker.SetGlobalProperty(r.Context(), req.Key, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) DeleteGlobalProperties(w http.ResponseWriter, r *http.Request) {
	a.tracker.ClearGlobalProperties(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetMatchID(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"match_id": a.tracker.MatchID(r.Context())})
}

func (a *API) PutMatchID(w http.ResponseWriter, r *http.Request) {
	var req idRequest
	if !readJSON(w, r, &req) {
		return
	}
	a.queued(w, a.tracker.SetMatchID(r.Context(), req.ID))
}

func (a *API) DeleteMatchID(w http.ResponseWriter, r *http.Request) {
	a.tracker.ClearMatchID(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetDeviceID(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"device_id": a.tracker.DeviceID()})
}

// PostUnload runs the forced flush and waits for it, bounded by the unload
// timeout.
func (a *API) PostUnload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.unloadTimeout)
	defer cancel()
	err := a.tracker.Unload(ctx)
	switch {
	case err == nil:
		writeMessage(w, http.StatusOK, "queue flushed")
	case errors.Is(err, context.DeadlineExceeded):
		writeMessage(w, http.StatusGatewayTimeout, "flush still running")
	default:
		writeMessage(w, http.StatusServiceUnavailable, "flush: %s", err)
	}
}

func (a *API) result(w http.ResponseWriter, ok bool, err error) {
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "%s", err)
		return
	}
	a.queued(w, ok)
}

func (a *API) queued(w http.ResponseWriter, ok bool) {
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, queuedResponse{Queued: false})
		return
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Queued: true})
}
