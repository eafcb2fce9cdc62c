// Package server exposes the engine over Connect RPC. Messages are CBOR
// encoded; requests run on a bounded pool of worker goroutines, each job
// on its own process.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/chazu/ilvm/vm"
	"github.com/tliron/commonlog"
)

// Procedure paths.
const (
	ServiceName          = "ilvm.v1.EngineService"
	VerifyProcedure      = "/" + ServiceName + "/Verify"
	RunProcedure         = "/" + ServiceName + "/Run"
	DisassembleProcedure = "/" + ServiceName + "/Disassemble"
)

// Server is the engine service wrapping a worker pool.
type Server struct {
	pool *WorkerPool
	mux  *http.ServeMux
	http *http.Server
	log  commonlog.Logger
}

// Option configures a Server.
type Option func(*config)

type config struct {
	workers int
	preload [][]byte
}

// WithWorkers sets the number of concurrent jobs.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithPreload loads the given images into every job's process before
// the request's own image.
func WithPreload(images ...[]byte) Option {
	return func(c *config) { c.preload = append(c.preload, images...) }
}

// New creates a Server whose jobs run on processes built from opts.
func New(opts vm.Options, options ...Option) *Server {
	cfg := &config{workers: 4}
	for _, opt := range options {
		opt(cfg)
	}

	s := &Server{
		pool: NewWorkerPool(opts, cfg.workers, cfg.preload),
		mux:  http.NewServeMux(),
		log:  commonlog.GetLogger("ilvm.server"),
	}

	svc := NewEngineService(s.pool)
	codec := connect.WithCodec(newCBORCodec())
	s.mux.Handle(VerifyProcedure, connect.NewUnaryHandler(VerifyProcedure, svc.Verify, codec))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, codec))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, codec))
	return s
}

// Handler returns the HTTP handler serving the engine procedures.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.log.Noticef("engine service listening on %s", addr)
	s.log.Infof("  Connect (CBOR): http://%s%s", addr, RunProcedure)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server, if any, and the worker pool.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	return errors.Join(err, s.pool.Stop())
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client calls a remote engine service.
type Client struct {
	verify      *connect.Client[VerifyRequest, VerifyResponse]
	run         *connect.Client[RunRequest, RunResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	codec := connect.WithCodec(newCBORCodec())
	return &Client{
		verify:      connect.NewClient[VerifyRequest, VerifyResponse](httpClient, baseURL+VerifyProcedure, codec),
		run:         connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, codec),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, codec),
	}
}

// Verify calls the Verify procedure.
func (c *Client) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResponse, error) {
	resp, err := c.verify.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Run calls the Run procedure.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	resp, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Disassemble calls the Disassemble procedure.
func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	resp, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
