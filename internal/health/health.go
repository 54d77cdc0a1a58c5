// Package health serves the liveness and readiness probes of the framegate
// ops listener.
//
// /healthz answers 200 as long as the process serves HTTP. /readyz runs every
// [Checker] concurrently and answers 200 only when all of them pass. Both
// reply with JSON:
//
//	{"status":"ok","checks":{"engine:opus":{"status":"ok","latency":"1.2ms"}}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/framegate/pkg/codec"
	"github.com/MrWong99/framegate/pkg/session"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Checker is one named readiness check. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New returns a Handler running checkers on every readiness request with
// [DefaultTimeout] per check.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers), timeout: DefaultTimeout}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	results := make([]checkResult, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", Latency: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				res.Status = "fail"
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(results))}
	code := http.StatusOK
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status != "ok" {
			rep.Status = "fail"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, rep)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// EngineCheckers returns one checker per entry of rates, named
// "engine:<name>" and ordered by name. Each check encodes a single frame of
// silence through a mono session at the given rate and requires at least
// one compressed unit back.
func EngineCheckers(reg *codec.Registry, rates map[string]int) []Checker {
	names := make([]string, 0, len(rates))
	for name := range rates {
		names = append(names, name)
	}
	slices.Sort(names)

	checkers := make([]Checker, 0, len(names))
	for _, name := range names {
		rate := rates[name]
		checkers = append(checkers, Checker{
			Name: "engine:" + name,
			Check: func(ctx context.Context) error {
				return checkEngine(ctx, reg, name, rate)
			},
		})
	}
	return checkers
}

// maxCheckUnits caps the drain loop of an engine check.
const maxCheckUnits = 16

func checkEngine(ctx context.Context, reg *codec.Registry, name string, rate int) error {
	eng, err := reg.Lookup(name)
	if err != nil {
		return err
	}
	formats := eng.EncoderFormats()
	if len(formats) == 0 {
		return errors.New("no encoder formats")
	}
	s, err := session.OpenEncoder(session.EncoderOptions{
		Engine:     eng,
		SampleRate: rate,
		Channels:   1,
		Format:     formats[0],
	})
	if err != nil {
		return err
	}
	defer s.Close()

	sf := s.InputFormat()
	n := s.FrameSize()
	silence := make([][]byte, sf.Planes())
	for i := range silence {
		silence[i] = make([]byte, n*sf.Stride())
	}
	if _, err := s.EncodeSamples(silence, n); err != nil {
		return err
	}
	if err := s.FlushEncoder(); err != nil {
		return err
	}

	units := 0
	for range maxCheckUnits {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := s.ReceiveEncoded(nil)
		if err != nil {
			return err
		}
		if res.N == 0 {
			break
		}
		if _, err := s.ReceiveEncoded(make([]byte, res.N)); err != nil {
			return err
		}
		units++
	}
	if units == 0 {
		return fmt.Errorf("no output for %d samples at %d Hz", n, rate)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
