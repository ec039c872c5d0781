// Package monitor serves a JSON API over a running driver: its state
// snapshot, recent management transactions, and connection and
// power-save control.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mrf24w/core"
	"mrf24w/trace"
)

// Driver is the part of *core.Driver the monitor uses.
type Driver interface {
	Status() core.Status
	Connect(cpID uint8) error
	Disconnect() error
	CheckConnectionState() (core.ConnectionState, error)
	PsPollEnable(rxDtim bool) error
	PsPollDisable() error
	MACAddress() (net.HardwareAddr, error)
	SystemVersion() (rom, patch uint8, err error)
	Reset() error
}

// TraceSource supplies recorded transactions.
type TraceSource interface {
	Recent(n int) ([]trace.Record, error)
}

type Monitor struct {
	drv    Driver
	traces TraceSource
	log    *slog.Logger
	router *mux.Router
}

func New(drv Driver, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	m := &Monitor{drv: drv, log: log}
	r := mux.NewRouter()
	r.HandleFunc("/api/status", m.status).Methods(http.MethodGet)
	r.HandleFunc("/api/connection", m.connection).Methods(http.MethodGet)
	r.HandleFunc("/api/connect/{profile:[0-9]+}", m.connect).Methods(http.MethodPost)
	r.HandleFunc("/api/disconnect", m.disconnect).Methods(http.MethodPost)
	r.HandleFunc("/api/powersave/{mode}", m.powerSave).Methods(http.MethodPost)
	r.HandleFunc("/api/reset", m.reset).Methods(http.MethodPost)
	r.HandleFunc("/api/device", m.device).Methods(http.MethodGet)
	r.HandleFunc("/api/transactions", m.transactions).Methods(http.MethodGet)
	m.router = r
	return m
}

// WithTraces enables /api/transactions.
func (m *Monitor) WithTraces(ts TraceSource) *Monitor {
	m.traces = ts
	return m
}

func (m *Monitor) Handler() http.Handler { return m.router }

// Serve listens on addr until ctx is done.
func (m *Monitor) Serve(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	srv := &http.Server{Handler: m.router, ReadHeaderTimeout: 5 * time.Second}
	m.log.Info("monitor: serving", slog.String("url", "http://"+l.Addr().String()+"/api/status"))
	go func() {
		<-ctx.Done()
		shut, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shut)
	}()
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

type windowView struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
	Size  uint16 `json:"size"`
	Saved bool   `json:"saved"`
}

type statusView struct {
	Initialized       bool                  `json:"initialized"`
	Hibernating       bool                  `json:"hibernating"`
	Connected         bool                  `json:"connected"`
	LinkUp            bool                  `json:"link_up"`
	Transaction       string                `json:"transaction"`
	PowerSave         string                `json:"power_save"`
	PsPollActive      bool                  `json:"ps_poll_active"`
	AppWantsPowerSave bool                  `json:"app_wants_power_save"`
	SleepNeeded       bool                  `json:"sleep_needed"`
	DataPending       bool                  `json:"data_pending"`
	RxIndexBeyond     bool                  `json:"rx_index_beyond"`
	Fault             string                `json:"fault,omitempty"`
	Windows           map[string]windowView `json:"windows"`
	RawHistory        []string              `json:"raw_history"`
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	st := m.drv.Status()
	v := statusView{
		Initialized:       st.Initialized,
		Hibernating:       st.Hibernating,
		Connected:         st.Connected,
		LinkUp:            st.LinkUp,
		Transaction:       st.Transaction.String(),
		PowerSave:         st.PowerSave.String(),
		PsPollActive:      st.PsPollActive,
		AppWantsPowerSave: st.AppWantsPowerSave,
		SleepNeeded:       st.SleepNeeded,
		DataPending:       st.DataPending,
		RxIndexBeyond:     st.RxIndexBeyond,
		Windows:           map[string]windowView{},
		RawHistory:        []string{},
	}
	if st.Fault != nil {
		v.Fault = st.Fault.Error()
	}
	for i, win := range st.Windows {
		v.Windows[win.ID.String()] = windowView{
			Ready: win.Ready,
			State: win.State.String(),
			Size:  win.Size,
			Saved: st.Saved[i],
		}
	}
	for _, rec := range st.RawHistory {
		v.RawHistory = append(v.RawHistory, rec.String())
	}
	m.writeJSON(w, http.StatusOK, v)
}

func (m *Monitor) connection(w http.ResponseWriter, _ *http.Request) {
	st, err := m.drv.CheckConnectionState()
	if err != nil {
		m.fail(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]any{"state": st.String(), "code": uint8(st)})
}

func (m *Monitor) connect(w http.ResponseWriter, r *http.Request) {
	profile, err := strconv.ParseUint(mux.Vars(r)["profile"], 10, 8)
	if err != nil {
		m.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := m.drv.Connect(uint8(profile)); err != nil {
		m.fail(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]any{"connected": m.drv.Status().Connected})
}

func (m *Monitor) disconnect(w http.ResponseWriter, _ *http.Request) {
	if err := m.drv.Disconnect(); err != nil {
		m.fail(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]any{"connected": false})
}

func (m *Monitor) powerSave(w http.ResponseWriter, r *http.Request) {
	var err error
	switch mode := mux.Vars(r)["mode"]; mode {
	case "off":
		err = m.drv.PsPollDisable()
	case "dtim":
		err = m.drv.PsPollEnable(true)
	case "nodtim":
		err = m.drv.PsPollEnable(false)
	default:
		m.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown power save mode %q", mode))
		return
	}
	if err != nil {
		m.fail(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]any{"power_save": m.drv.Status().PowerSave.String()})
}

func (m *Monitor) reset(w http.ResponseWriter, _ *http.Request) {
	if err := m.drv.Reset(); err != nil {
		m.fail(w, err)
		return
	}
	m.status(w, nil)
}

func (m *Monitor) device(w http.ResponseWriter, _ *http.Request) {
	mac, err := m.drv.MACAddress()
	if err != nil {
		m.fail(w, err)
		return
	}
	rom, patch, err := m.drv.SystemVersion()
	if err != nil {
		m.fail(w, err)
		return
	}
	m.writeJSON(w, http.StatusOK, map[string]any{
		"mac":     mac.String(),
		"rom":     fmt.Sprintf("%#02x", rom),
		"patch":   fmt.Sprintf("%#02x", patch),
		"version": fmt.Sprintf("%x.%x", rom, patch),
	})
}

type recordView struct {
	ID         string  `json:"id"`
	Subtype    string  `json:"subtype"`
	Request    string  `json:"request"`
	Result     string  `json:"result"`
	MACState   uint8   `json:"mac_state"`
	Start      string  `json:"start"`
	DurationMS float64 `json:"duration_ms"`
	Err        string  `json:"error,omitempty"`
}

func (m *Monitor) transactions(w http.ResponseWriter, r *http.Request) {
	if m.traces == nil {
		m.writeError(w, http.StatusNotFound, errors.New("tracing disabled"))
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			m.writeError(w, http.StatusBadRequest, fmt.Errorf("bad limit %q", s))
			return
		}
		limit = n
	}
	recs, err := m.traces.Recent(limit)
	if err != nil {
		m.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]recordView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView{
			ID:         rec.ID,
			Subtype:    rec.Subtype.String(),
			Request:    fmt.Sprintf("% x", rec.Request),
			Result:     rec.Result.String(),
			MACState:   rec.MACState,
			Start:      rec.Start.Format(time.RFC3339Nano),
			DurationMS: float64(rec.Duration) / float64(time.Millisecond),
			Err:        rec.Err,
		})
	}
	m.writeJSON(w, http.StatusOK, out)
}

// fail maps driver errors onto status codes.
func (m *Monitor) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	var rerr *core.ResultError
	switch {
	case errors.Is(err, core.ErrDisconnectFailed),
		errors.Is(err, core.ErrTransactionPending),
		errors.Is(err, core.ErrReentrantSend):
		code = http.StatusConflict
	case errors.Is(err, core.ErrDeviceUnresponsive),
		errors.Is(err, core.ErrDeviceFault),
		errors.Is(err, core.ErrHibernating),
		errors.Is(err, core.ErrNotInitialized):
		code = http.StatusServiceUnavailable
	case errors.As(err, &rerr):
		code = http.StatusBadGateway
	}
	m.log.Warn("monitor: request failed", slog.Any("err", err))
	m.writeError(w, code, err)
}

func (m *Monitor) writeError(w http.ResponseWriter, code int, err error) {
	m.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (m *Monitor) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		m.log.Warn("monitor: write failed", slog.Any("err", err))
	}
}
