package app

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dctledger/internal/dct"
	"dctledger/internal/ingest"
	"dctledger/internal/search"
	"dctledger/internal/sot"
	"dctledger/internal/store"

	"github.com/sirupsen/logrus"
)

const maxIngestBody = 8 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: service.logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" || (parts[1] != "dct" && parts[1] != "sot-events") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}

	if parts[1] == "sot-events" {
		s.handleSotEvents(w, r, parts[2:])
		return
	}
	s.handleDCT(w, r, strings.Join(parts[2:], "/"))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Cache and search degrade reads but never block them.
	switch enabled, err := s.service.PingCache(ctx); {
	case !enabled:
		checks["cache"] = map[string]any{"status": "disabled"}
	case err != nil:
		checks["cache"] = map[string]any{"status": "degraded", "error": err.Error()}
	default:
		checks["cache"] = map[string]any{"status": "ok"}
	}
	if s.service.SearchHealthy() {
		checks["search"] = map[string]any{"status": "ok"}
	} else {
		checks["search"] = map[string]any{"status": "fallback"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSotEvents(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodGet && len(rest) == 0:
		q := r.URL.Query()
		filter := store.EventFilter{
			NhID:   strings.TrimSpace(q.Get("nh")),
			Source: strings.TrimSpace(q.Get("source")),
			Kind:   strings.TrimSpace(q.Get("kind")),
			Limit:  clampInt(q.Get("limit"), 1, 200, 50),
			Newest: true,
		}
		events, err := s.service.ListEvents(r.Context(), filter)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		views := make([]eventView, 0, len(events))
		for _, e := range events {
			views = append(views, toEventView(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"meta": map[string]any{
				"count":   len(views),
				"limit":   filter.Limit,
				"filters": map[string]any{"nh": filter.NhID, "source": filter.Source, "kind": filter.Kind},
			},
			"events": views,
		})

	case r.Method == http.MethodPost && len(rest) == 0:
		var env sot.Envelope
		if err := decodeBody(r, &env); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		receipt, err := s.service.RecordEvent(r.Context(), env)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"ok":       true,
			"id":       receipt.Event.Seq,
			"eventId":  receipt.Event.EventID,
			"warnings": receipt.Warnings,
		})

	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "ingest":
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "INVALID_BODY", "Request body too large", nil)
			return
		}
		result, err := s.service.IngestBatch(r.Context(), body)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           result.Errors == 0,
			"received":     result.Received,
			"inserted":     result.Inserted,
			"errors":       result.Errors,
			"sampleErrors": result.SampleErrors,
			"results":      result.Results,
		})

	case r.Method == http.MethodGet && len(rest) == 1:
		event, err := s.service.GetEvent(r.Context(), rest[0])
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"event": toEventView(event)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleDCT(w http.ResponseWriter, r *http.Request, route string) {
	if r.Method == http.MethodGet {
		switch route {
		case "slots":
			s.handleSlots(w, r)
		case "operating-set":
			s.handleOperatingSet(w, r)
		case "idea":
			s.handleIdea(w, r)
		case "quality":
			s.handleQuality(w, r)
		case "ideas/search":
			s.handleSearch(w, r)
		case "slot-catalog":
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "slots": dct.CanonicalSlots})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch route {
	case "idea-create":
		var in CreateIdeaInput
		if !s.decode(w, r, &in) {
			return
		}
		receipt, err := s.service.CreateIdea(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(receipt, map[string]any{"ideaId": strings.TrimSpace(in.IdeaID)}))
	case "slot-bind":
		var in BindSlotInput
		if !s.decode(w, r, &in) {
			return
		}
		receipt, err := s.service.BindSlot(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(receipt, map[string]any{
			"slot":   dct.NormalizeSlot(in.Slot),
			"ideaId": strings.TrimSpace(in.IdeaID),
		}))
	case "idea-revise":
		var in ReviseIdeaInput
		if !s.decode(w, r, &in) {
			return
		}
		receipt, err := s.service.ReviseIdea(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(receipt, map[string]any{"ideaId": strings.TrimSpace(in.IdeaID)}))
	case "idea-status":
		var in SetIdeaStatusInput
		if !s.decode(w, r, &in) {
			return
		}
		receipt, err := s.service.SetIdeaStatus(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(receipt, map[string]any{
			"ideaId": strings.TrimSpace(in.IdeaID),
			"status": in.Status,
		}))
	case "idea-edge":
		var in AddEdgeInput
		if !s.decode(w, r, &in) {
			return
		}
		receipt, err := s.service.AddEdge(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(receipt, map[string]any{
			"from":     strings.TrimSpace(in.From),
			"to":       strings.TrimSpace(in.To),
			"relation": in.Relation,
		}))
	case "idea-provenance":
		var in AttachProvenanceInput
		if !s.decode(w, r, &in) {
			return
		}
		result, err := s.service.AttachProvenance(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse(result.Receipt, map[string]any{
			"ideaId": result.IdeaID,
			"received": map[string]any{
				"anchorLegacy": result.AnchorLegacy,
				"addTags":      result.AddTags,
				"removeTags":   result.RemoveTags,
				"tagsChanged":  result.TagsChanged,
			},
		}))
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

type slotEntry struct {
	Slot string `json:"slot"`
	dct.SlotBinding
	Idea *dct.Idea `json:"idea,omitempty"`
}

type operatingEntry struct {
	Slot string `json:"slot"`
	dct.SlotBinding
	Idea *dct.Idea `json:"idea"`
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	take := clampInt(q.Get("take"), 1, s.service.cfg.MaxTake, s.service.cfg.DefaultTake)
	includeIdeas := queryBool(q.Get("includeIdeas"), false)
	includeEvents := queryBool(q.Get("includeEvents"), false)

	view, err := s.service.View(r.Context(), take, includeEvents)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	p := view.Projection

	entries := make([]slotEntry, 0, len(p.Slots))
	for _, slot := range p.SlotNames() {
		entry := slotEntry{Slot: slot, SlotBinding: p.Slots[slot]}
		if includeIdeas {
			entry.Idea = ideaRef(p, entry.IdeaID)
		}
		entries = append(entries, entry)
	}

	meta := projectionMeta(view)
	meta["slotCount"] = p.Metrics.SlotCount
	meta["operatingIdeasCount"] = p.Metrics.OperatingIdeasCount
	response := map[string]any{
		"ok":          true,
		"meta":        meta,
		"slots":       p.Slots,
		"slotEntries": entries,
	}
	if includeEvents {
		response["events"] = eventViews(view.Events)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleOperatingSet(w http.ResponseWriter, r *http.Request) {
	take := clampInt(r.URL.Query().Get("take"), 1, s.service.cfg.MaxTake, s.service.cfg.DefaultTake)
	view, err := s.service.View(r.Context(), take, false)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	p := view.Projection

	operating := make([]operatingEntry, 0, len(p.Slots))
	for _, slot := range p.SlotNames() {
		binding := p.Slots[slot]
		operating = append(operating, operatingEntry{Slot: slot, SlotBinding: binding, Idea: ideaRef(p, binding.IdeaID)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"meta": map[string]any{
			"take":                    view.Take,
			"head":                    view.Head,
			"slotCount":               p.Metrics.SlotCount,
			"operatingIdeasCount":     p.Metrics.OperatingIdeasCount,
			"eventsProcessed":         p.Metrics.EventsProcessed,
			"eventsWithLegacyAnchors": p.Metrics.EventsWithLegacyAnchors,
			"skipped":                 p.Metrics.Skipped(),
		},
		"operating":    operating,
		"operatingSet": p.OperatingSet,
	})
}

func (s *HTTPServer) handleIdea(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ideaID := strings.TrimSpace(q.Get("ideaId"))
	if ideaID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Missing required query param: ideaId", nil)
		return
	}
	take := clampInt(q.Get("take"), 1, s.service.cfg.MaxTake, s.service.cfg.DefaultTake)
	includeEdges := queryBool(q.Get("includeEdges"), false)
	includeSlots := queryBool(q.Get("includeSlots"), true)
	includeEvents := queryBool(q.Get("includeEvents"), false)

	view, err := s.service.View(r.Context(), take, includeEvents)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	p := view.Projection
	idea := ideaRef(p, ideaID)

	meta := projectionMeta(view)
	meta["ideaId"] = ideaID
	meta["found"] = idea != nil
	response := map[string]any{"ok": true, "idea": idea}

	if includeSlots {
		refs := make([]slotEntry, 0)
		for _, slot := range p.SlotNames() {
			if binding := p.Slots[slot]; binding.IdeaID == ideaID {
				refs = append(refs, slotEntry{Slot: slot, SlotBinding: binding})
			}
		}
		meta["slotRefCount"] = len(refs)
		response["slotRefs"] = refs
	} else {
		meta["slotRefCount"] = 0
	}
	if includeEdges {
		edges := make([]dct.Edge, 0)
		for _, edge := range p.Edges {
			if edge.From == ideaID || edge.To == ideaID {
				edges = append(edges, edge)
			}
		}
		meta["edgeRefCount"] = len(edges)
		response["edges"] = edges
	} else {
		meta["edgeRefCount"] = 0
	}
	if includeEvents {
		response["events"] = eventViews(view.Events)
	}
	response["meta"] = meta
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleQuality(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	take := clampInt(q.Get("take"), 1, QualityMaxTake, s.service.cfg.DefaultTake)
	maxIssues := clampInt(q.Get("maxIssues"), 1, 500, 50)

	view, report, err := s.service.Quality(r.Context(), take, maxIssues)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	meta := projectionMeta(view)
	meta["maxIssues"] = maxIssues
	meta["totalIdeas"] = view.Projection.Metrics.TotalIdeas
	meta["slotCount"] = view.Projection.Metrics.SlotCount

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"pass":             report.Pass,
		"severity":         report.Severity,
		"meta":             meta,
		"counts":           report.Counts,
		"issues":           report.Issues,
		"suggestedActions": report.SuggestedActions,
	})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.service.SearchIdeas(r.Context(), search.Query{
		Text:         strings.TrimSpace(q.Get("q")),
		FilterStatus: strings.TrimSpace(q.Get("status")),
		FilterType:   strings.TrimSpace(q.Get("ideaType")),
		Limit:        clampInt(q.Get("limit"), 1, 100, 20),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorized checks the internal token when one is configured.
func (s *HTTPServer) authorized(r *http.Request) bool {
	expected := strings.TrimSpace(s.service.cfg.InternalToken)
	if expected == "" {
		return true
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-DCT-Internal-Token"))
	}
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func commandResponse(receipt ingest.Receipt, extra map[string]any) map[string]any {
	response := map[string]any{
		"ok":       true,
		"eventId":  receipt.Event.EventID,
		"kind":     receipt.Event.Kind,
		"ts":       dct.FormatTS(receipt.Event.TS),
		"warnings": receipt.Warnings,
	}
	for k, v := range extra {
		response[k] = v
	}
	return response
}

func projectionMeta(view View) map[string]any {
	m := view.Projection.Metrics
	return map[string]any{
		"take":                             view.Take,
		"head":                             view.Head,
		"eventsProcessed":                  m.EventsProcessed,
		"eventsSkippedInvalidPayload":      m.EventsSkippedInvalidPayload,
		"eventsSkippedKindPayloadMismatch": m.EventsSkippedKindPayloadMismatch,
		"eventsSkippedUnknownIdea":         m.EventsSkippedUnknownIdea,
		"eventsWithLegacyAnchors":          m.EventsWithLegacyAnchors,
	}
}

func ideaRef(p dct.Projection, ideaID string) *dct.Idea {
	idea, ok := p.Ideas[ideaID]
	if !ok {
		return nil
	}
	return &idea
}

type eventView struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"eventId"`
	TS        string          `json:"ts"`
	CreatedAt string          `json:"createdAt"`
	Source    string          `json:"source"`
	Kind      string          `json:"kind"`
	NhID      *string         `json:"nhId"`
	Summary   string          `json:"summary"`
	Payload   json.RawMessage `json:"payload"`
	RepoID    *int64          `json:"repoId"`
	DomainID  *int64          `json:"domainId"`
}

func toEventView(e store.Event) eventView {
	v := eventView{
		ID:        e.Seq,
		EventID:   e.EventID,
		TS:        dct.FormatTS(e.TS),
		CreatedAt: dct.FormatTS(e.RecordedAt),
		Source:    e.Source,
		Kind:      e.Kind,
		Summary:   e.Summary,
		Payload:   e.Payload,
		RepoID:    e.RepoID,
		DomainID:  e.DomainID,
	}
	if e.NhID != "" {
		nhID := e.NhID
		v.NhID = &nhID
	}
	return v
}

func eventViews(events []store.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, toEventView(e))
	}
	return out
}

// clampInt parses a numeric query value. Missing or non-numeric input
// yields fallback; fractions are floored; the result is clamped to [lo, hi].
func clampInt(raw string, lo, hi, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return fallback
	}
	i := math.Floor(n)
	switch {
	case i < float64(lo):
		return lo
	case i > float64(hi):
		return hi
	}
	return int(i)
}

func queryBool(raw string, fallback bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if fallback {
		return !strings.EqualFold(raw, "false")
	}
	return strings.EqualFold(raw, "true")
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-DCT-Internal-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
