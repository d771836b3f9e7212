package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"lastmile/internal/field"
	"lastmile/internal/model"
	"lastmile/internal/notify"
	"lastmile/internal/route"
	"lastmile/internal/store"
)

// ParcelsHandler handles POST/GET /v1/parcels
func (s *Server) ParcelsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireOperator(w, r) {
			return
		}
		var in model.Parcel
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if strings.TrimSpace(in.TrackingNo) == "" {
			writeProblem(w, http.StatusBadRequest, "Missing tracking number", "", r.URL.Path)
			return
		}
		p, err := s.Store.CreateParcel(r.Context(), in)
		if errors.Is(err, store.ErrDuplicate) {
			writeProblem(w, http.StatusConflict, "Duplicate tracking number", in.TrackingNo, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create parcel failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	case http.MethodGet:
		courierID := r.URL.Query().Get("courierId")
		if courierID == "" {
			if pr := s.getPrincipal(r); pr.CourierID != "" {
				courierID = pr.CourierID
			}
		}
		if courierID == "" {
			writeProblem(w, http.StatusBadRequest, "Missing courierId", "", r.URL.Path)
			return
		}
		var statuses []model.Status
		if v := r.URL.Query().Get("status"); v != "" {
			for _, s := range strings.Split(v, ",") {
				statuses = append(statuses, model.Status(strings.TrimSpace(s)))
			}
		}
		items, err := s.Store.ListParcelsByCourier(r.Context(), courierID, statuses)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List parcels failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ParcelByIDHandler handles /v1/parcels/{tn} and its action sub-paths:
// accept, pickup, start, complete, anomaly, anomalies, cancel.
func (s *Server) ParcelByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/parcels/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing tracking number", r.URL.Path)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	tn := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		p, err := s.Store.GetParcel(r.Context(), tn)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Parcel not found", tn, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get parcel failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case action == "accept" && r.Method == http.MethodPost:
		s.acceptParcel(w, r, tn)
	case action == "pickup" && r.Method == http.MethodPost:
		s.fieldAction(w, r, tn, model.StatusPickedUp, s.Syncer.ConfirmPickup)
	case action == "start" && r.Method == http.MethodPost:
		s.fieldAction(w, r, tn, model.StatusDelivering, s.Syncer.StartDelivery)
	case action == "complete" && r.Method == http.MethodPost:
		s.completeParcel(w, r, tn)
	case action == "anomaly" && r.Method == http.MethodPost:
		s.reportAnomaly(w, r, tn)
	case action == "anomalies" && r.Method == http.MethodGet:
		items, err := s.Store.ListAnomalies(r.Context(), tn)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List anomalies failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case action == "cancel" && r.Method == http.MethodPost:
		if _, ok := s.authorizeTransition(w, r, model.StatusCancelled); !ok {
			return
		}
		rep, err := s.Syncer.Cancel(r.Context(), tn)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeProblem(w, status, "Cancel failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) acceptParcel(w http.ResponseWriter, r *http.Request, tn string) {
	pr, ok := s.authorizeTransition(w, r, model.StatusPendingPickup)
	if !ok {
		return
	}
	courierID := pr.CourierID
	if courierID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing courier", "courier identity required", r.URL.Path)
		return
	}
	p, err := s.Store.GetParcel(r.Context(), tn)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Parcel not found", tn, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get parcel failed", err.Error(), r.URL.Path)
		return
	}
	courier, err := s.Store.GetCourier(r.Context(), courierID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusInternalServerError, "Get courier failed", err.Error(), r.URL.Path)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Courier not found", courierID, r.URL.Path)
		return
	}
	// Trust gating happens once, here at the start-of-delivery transition.
	if err := s.Gate.CheckAcceptance(courier.TrustScore, p.Fee); err != nil {
		writeProblem(w, http.StatusForbidden, "Acceptance blocked", err.Error(), r.URL.Path)
		return
	}
	if err := s.Syncer.AcceptTask(r.Context(), tn, courierID); err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Accept failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type completeRequest struct {
	Position model.GeoPoint `json:"position"`
	Device   struct {
		LocationMocked  bool `json:"locationMocked"`
		LocationPrecise bool `json:"locationPrecise"`
		Battery         int  `json:"battery"`
		FreeStorageMB   int  `json:"freeStorageMb"`
		Network         bool `json:"network"`
	} `json:"device"`
}

func (s *Server) completeParcel(w http.ResponseWriter, r *http.Request, tn string) {
	pr, ok := s.authorizeTransition(w, r, model.StatusDelivered)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	p, err := s.Store.GetParcel(r.Context(), tn)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Parcel not found", tn, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get parcel failed", err.Error(), r.URL.Path)
		return
	}
	if p.CourierID != "" && p.CourierID != pr.CourierID {
		writeProblem(w, http.StatusForbidden, "Forbidden", "parcel is assigned to another courier", r.URL.Path)
		return
	}
	dev := field.Report{
		LocationMocked:  req.Device.LocationMocked,
		LocationPrecise: req.Device.LocationPrecise,
		BatteryPercent:  req.Device.Battery,
		FreeStorageMB:   req.Device.FreeStorageMB,
		NetworkOK:       req.Device.Network,
	}
	// Server-side re-run of the completion gate, closing the
	// time-of-check/time-of-use window against stale client verdicts.
	if err := s.Gate.VerifyCompletion(r.Context(), pr.CourierID, req.Position, p, dev); err != nil {
		var tooFar *field.TooFarError
		if errors.As(err, &tooFar) {
			writeTooFar(w, tooFar, r.URL.Path)
			return
		}
		writeProblem(w, http.StatusForbidden, "Completion blocked", err.Error(), r.URL.Path)
		return
	}
	rep, err := s.Syncer.CompleteDelivery(r.Context(), tn)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Complete failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) reportAnomaly(w http.ResponseWriter, r *http.Request, tn string) {
	pr, ok := s.authorizeTransition(w, r, model.StatusAnomalyReported)
	if !ok {
		return
	}
	var req struct {
		Reason   string          `json:"reason"`
		Position *model.GeoPoint `json:"position,omitempty"`
		Device   map[string]any  `json:"device,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeProblem(w, http.StatusBadRequest, "Missing reason", "", r.URL.Path)
		return
	}
	rep, err := s.Syncer.ReportAnomaly(r.Context(), model.AnomalyReport{
		TrackingNo: tn,
		CourierID:  pr.CourierID,
		Reason:     req.Reason,
		Device:     req.Device,
		Position:   req.Position,
	})
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Report failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) fieldAction(w http.ResponseWriter, r *http.Request, tn string, to model.Status, fn func(ctx context.Context, tn string) error) {
	pr, ok := s.authorizeTransition(w, r, to)
	if !ok {
		return
	}
	p, err := s.Store.GetParcel(r.Context(), tn)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Parcel not found", tn, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Get parcel failed", err.Error(), r.URL.Path)
		return
	}
	if p.CourierID != "" && p.CourierID != pr.CourierID {
		writeProblem(w, http.StatusForbidden, "Forbidden", "parcel is assigned to another courier", r.URL.Path)
		return
	}
	if err := fn(r.Context(), tn); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeProblem(w, status, "Transition failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ManifestsHandler handles POST /v1/manifests and GET /v1/manifests?freightNo=
func (s *Server) ManifestsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !s.requireOperator(w, r) {
			return
		}
		var in model.FreightManifest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if strings.TrimSpace(in.FreightNo) == "" {
			writeProblem(w, http.StatusBadRequest, "Missing freight number", "", r.URL.Path)
			return
		}
		m, err := s.Store.CreateManifest(r.Context(), in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create manifest failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	case http.MethodGet:
		fn := r.URL.Query().Get("freightNo")
		if fn == "" {
			writeProblem(w, http.StatusBadRequest, "Missing freightNo", "", r.URL.Path)
			return
		}
		m, err := s.Store.LatestManifestByFreightNo(r.Context(), fn)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Manifest not found", fn, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get manifest failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, m)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ManifestByIDHandler handles /v1/manifests/{id} and the batch operations:
// packages (addPackages), arrive, transit. Each returns affected parcel and
// ledger-entry counts; all are idempotent.
func (s *Server) ManifestByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/manifests/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	// The batch operations move back-office state; couriers only read.
	if r.Method == http.MethodPost && !s.requireOperator(w, r) {
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		m, err := s.Store.GetManifest(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Manifest not found", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get manifest failed", err.Error(), r.URL.Path)
			return
		}
		members, err := s.Store.ListMemberships(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List members failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"manifest": m, "members": members})
	case action == "packages" && r.Method == http.MethodPost:
		var req struct {
			TrackingNos []string `json:"trackingNos"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		rep, err := s.Syncer.AddPackages(r.Context(), id, req.TrackingNos)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeProblem(w, status, "Add packages failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	case action == "arrive" && r.Method == http.MethodPost:
		rep, err := s.Syncer.Arrive(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Arrive failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	case action == "transit" && r.Method == http.MethodPost:
		var req struct {
			Location      string `json:"location"`
			NextFreightNo string `json:"nextFreightNo,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if strings.TrimSpace(req.Location) == "" {
			writeProblem(w, http.StatusBadRequest, "Missing location", "", r.URL.Path)
			return
		}
		rep, err := s.Syncer.Transit(r.Context(), id, req.Location, req.NextFreightNo)
		if err != nil {
			status := http.StatusUnprocessableEntity
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeProblem(w, status, "Transit failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

// RoutePlanHandler handles POST /v1/route/plan
func (s *Server) RoutePlanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Origin      model.GeoPoint `json:"origin"`
		TrackingNos []string       `json:"trackingNos"`
		Strategy    string         `json:"strategy,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	strategy := route.Strategy(req.Strategy)
	if strategy != "" && strategy != route.StrategyShortest && strategy != route.StrategyPriority {
		writeProblem(w, http.StatusBadRequest, "Invalid strategy", req.Strategy, r.URL.Path)
		return
	}
	parcels := make([]model.Parcel, 0, len(req.TrackingNos))
	for _, tn := range req.TrackingNos {
		p, err := s.Store.GetParcel(r.Context(), tn)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Parcel not found", tn, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get parcel failed", err.Error(), r.URL.Path)
			return
		}
		parcels = append(parcels, p)
	}
	visits, err := s.Route.Plan(r.Context(), req.Origin, parcels, strategy)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Plan failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"visits": visits})
}

// CouriersHandler handles GET/PUT /v1/couriers/{id}
func (s *Server) CouriersHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/couriers/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if len(parts) == 2 {
		switch parts[1] {
		case "location":
			s.LocationHandler(w, r, id)
			return
		case "ws":
			s.WSHandler(w, r, id)
			return
		}
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		c, err := s.Store.GetCourier(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Courier not found", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Get courier failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodPut:
		if !s.requireOperator(w, r) {
			return
		}
		var c model.Courier
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		c.ID = id
		if err := s.Store.SaveCourier(r.Context(), c); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save courier failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, c)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions. Registration is
// how back-office systems start receiving status-change webhooks.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireOperator(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			URL    string   `json:"url"`
			Secret string   `json:"secret,omitempty"`
			Events []string `json:"events,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if strings.TrimSpace(req.URL) == "" {
			writeProblem(w, http.StatusBadRequest, "Missing url", "", r.URL.Path)
			return
		}
		sub := s.Queue.AddSubscription(notify.Subscription{URL: req.URL, Secret: req.Secret, Events: req.Events})
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.Queue.Subscriptions()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
