package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"arrowhead-go/internal/discovery"
	"arrowhead-go/internal/service"
	"arrowhead-go/internal/transport"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type StatsSource interface {
	Stats() transport.StatsSnapshot
}

type RecordSource interface {
	List(ctx context.Context) ([]discovery.Record, error)
}

// Sources feed the admin routes. Records may be nil when the provider
// runs without a discovery store.
type Sources struct {
	Hub      *Hub
	Services *service.Registry
	Stats    StatsSource
	Records  RecordSource
}

type serviceView struct {
	Name            string   `json:"name"`
	Pattern         string   `json:"pattern"`
	Methods         []string `json:"methods,omitempty"`
	Encodings       []string `json:"encodings"`
	DefaultEncoding string   `json:"default_encoding"`
}

func viewOf(def *service.Definition) serviceView {
	v := serviceView{
		Name:            def.Name(),
		Pattern:         def.Pattern(),
		DefaultEncoding: def.DefaultEncoding().Name,
	}
	for _, m := range def.Methods() {
		v.Methods = append(v.Methods, m.String())
	}
	for _, enc := range def.Encodings() {
		v.Encodings = append(v.Encodings, enc.Name)
	}
	return v
}

type handlers struct {
	src      Sources
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewRouter builds the admin API:
//
//	GET /services          registered services
//	GET /services/{name}   one service
//	GET /stats             transport counters
//	GET /records           published discovery records
//	GET /events            websocket event feed; ?format=binary for proto frames
func NewRouter(src Sources, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{
		src:    src,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/services", h.listServices).Methods(http.MethodGet)
	r.HandleFunc("/services/{name}", h.getService).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/records", h.records).Methods(http.MethodGet)
	r.HandleFunc("/events", h.events).Methods(http.MethodGet)
	return r
}

func (h *handlers) listServices(w http.ResponseWriter, r *http.Request) {
	defs := h.src.Services.Definitions()
	views := make([]serviceView, 0, len(defs))
	for _, def := range defs {
		views = append(views, viewOf(def))
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *handlers) getService(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	def, ok := h.src.Services.Get(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no service " + name})
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(def))
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	if h.src.Stats == nil {
		h.writeJSON(w, http.StatusOK, transport.StatsSnapshot{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.src.Stats.Stats())
}

func (h *handlers) records(w http.ResponseWriter, r *http.Request) {
	if h.src.Records == nil {
		h.writeJSON(w, http.StatusOK, []discovery.Record{})
		return
	}
	records, err := h.src.Records.List(r.Context())
	if err != nil {
		h.logger.Warn("listing records failed", zap.String("reason", err.Error()))
		h.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []discovery.Record{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered
		h.logger.Debug("event feed upgrade failed", zap.String("reason", err.Error()))
		return
	}
	ws := NewWSConn(conn, r.URL.Query().Get("format") != "binary")
	defer ws.Close()

	history, events, cancel := h.src.Hub.Subscribe(0)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.Discard()
	}()

	for _, msg := range history {
		if err := ws.WriteEvent(msg); err != nil {
			return
		}
	}
	for {
		select {
		case <-gone:
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			if err := ws.WriteEvent(msg); err != nil {
				h.logger.Debug("event feed closed", zap.String("reason", err.Error()))
				return
			}
		}
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("admin response not written", zap.String("reason", err.Error()))
	}
}

// ListenAndServe serves handler on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("monitor listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
