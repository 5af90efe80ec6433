package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matt-riley/orderz/internal/catalog"
	"github.com/matt-riley/orderz/internal/metrics"
	"github.com/matt-riley/orderz/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service          Service
	metrics          *metrics.Metrics
	maxJSONBodyBytes int64
}

type HTTPOption func(*HTTPServer)

// WithMaxJSONBodySize caps request bodies. Non-positive values keep the
// 1 MiB default.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

// WithMetrics instruments every route and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) {
		s.metrics = m
	}
}

type createVersionJSONRequest struct {
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	Description string     `json:"description"`
}

type placeOrderJSONResponse struct {
	Order  service.Order       `json:"order"`
	Priced service.PricedOrder `json:"priced"`
}

type rowJSON struct {
	Kind      catalog.EntityKind `json:"kind"`
	EntityID  string             `json:"entity_id"`
	ValidFrom time.Time          `json:"valid_from"`
	ValidTo   *time.Time         `json:"valid_to,omitempty"`
	Entity    catalog.Entity     `json:"entity"`
}

type diffJSON struct {
	EffectiveAt time.Time `json:"effective_at"`
	Closed      []rowJSON `json:"closed"`
	Added       []rowJSON `json:"added"`
}

func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:          svc,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/products/metadata", server.handleGenerateMetadata)
	mux.HandleFunc("POST /v1/orders/price", server.handlePriceOrder)
	mux.HandleFunc("POST /v1/orders", server.handlePlaceOrder)
	mux.HandleFunc("GET /v1/orders/{id}", server.handleGetOrder)
	mux.HandleFunc("POST /v1/orders/{id}/reprice", server.handleRepriceOrder)
	mux.HandleFunc("GET /v1/catalog", server.handleSnapshot)
	mux.HandleFunc("GET /v1/catalog/versions", server.handleListVersions)
	mux.HandleFunc("POST /v1/catalog/versions", server.handleCreateVersion)
	mux.HandleFunc("PUT /v1/catalog/{kind}/{id}", server.handlePutEntity)
	mux.HandleFunc("DELETE /v1/catalog/{kind}/{id}", server.handleRetireEntity)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	if server.metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", server.metrics.Handler())
	return server.metrics.HTTPMiddleware(func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	})(mux)
}

func (s *HTTPServer) handleGenerateMetadata(w http.ResponseWriter, r *http.Request) {
	var request service.MetadataRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	md, err := s.service.GenerateMetadata(r.Context(), request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, md)
}

func (s *HTTPServer) handlePriceOrder(w http.ResponseWriter, r *http.Request) {
	var request service.OrderRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	priced, err := s.service.PriceOrder(r.Context(), request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, priced)
}

func (s *HTTPServer) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var request service.OrderRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	order, priced, err := s.service.PlaceOrder(r.Context(), request)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/orders/"+order.ID.String())
	writeJSON(w, http.StatusCreated, placeOrderJSONResponse{Order: order, Priced: priced})
}

func (s *HTTPServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}

	order, err := s.service.GetOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (s *HTTPServer) handleRepriceOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathOrderID(w, r)
	if !ok {
		return
	}

	priced, err := s.service.RepriceOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, priced)
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	at, err := parseInstant(query.Get("at"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid at: want RFC 3339")
		return
	}
	versionID, err := parseVersionID(query.Get("version"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid version id")
		return
	}
	if at != nil && versionID != nil {
		writeJSONError(w, http.StatusBadRequest, "use either at or version")
		return
	}

	export, err := s.service.Snapshot(r.Context(), at, versionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, export)
}

func (s *HTTPServer) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions := s.service.ListVersions(r.Context())
	if versions == nil {
		versions = []catalog.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *HTTPServer) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var request createVersionJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	version, err := s.service.CreateVersion(r.Context(), request.EffectiveAt, request.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, version)
}

func (s *HTTPServer) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	effectiveAt, err := parseInstant(r.URL.Query().Get("effective_at"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid effective_at: want RFC 3339")
		return
	}

	var body json.RawMessage
	if err := s.decodeJSONBody(w, r, &body); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	entity, err := catalog.DecodeEntity(kind, body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s body", kind))
		return
	}
	if entity.EntityID() != id {
		writeJSONError(w, http.StatusBadRequest, "path id and body id must match")
		return
	}

	diff, err := s.service.PutEntity(r.Context(), entity, effectiveAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDiffJSON(diff))
}

func (s *HTTPServer) handleRetireEntity(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	effectiveAt, err := parseInstant(r.URL.Query().Get("effective_at"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid effective_at: want RFC 3339")
		return
	}

	diff, err := s.service.RetireEntity(r.Context(), kind, id, effectiveAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toDiffJSON(diff))
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func pathOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

func pathEntity(w http.ResponseWriter, r *http.Request) (catalog.EntityKind, string, bool) {
	kind := catalog.EntityKind(strings.TrimSpace(r.PathValue("kind")))
	if !kind.Valid() {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown catalog kind %q", kind))
		return "", "", false
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id is required")
		return "", "", false
	}
	return kind, id, true
}

// parseInstant parses an optional RFC 3339 query value.
func parseInstant(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func parseVersionID(value string) (*uuid.UUID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toDiffJSON(diff catalog.Diff) diffJSON {
	out := diffJSON{
		EffectiveAt: diff.EffectiveAt,
		Closed:      make([]rowJSON, 0, len(diff.Closed)),
		Added:       make([]rowJSON, 0, len(diff.Added)),
	}
	for _, row := range diff.Closed {
		out.Closed = append(out.Closed, toRowJSON(row))
	}
	for _, row := range diff.Added {
		out.Added = append(out.Added, toRowJSON(row))
	}
	return out
}

func toRowJSON(row catalog.Row) rowJSON {
	return rowJSON{
		Kind:      row.Kind,
		EntityID:  row.EntityID,
		ValidFrom: row.ValidFrom,
		ValidTo:   row.ValidTo,
		Entity:    row.Entity,
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, httpStatus(err), serviceErrorMessage(err))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
