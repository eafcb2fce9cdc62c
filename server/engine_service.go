package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/ilvm/image"
	"github.com/chazu/ilvm/metadata"
	"github.com/chazu/ilvm/vm"
)

// EngineService implements the Verify, Run and Disassemble procedures.
type EngineService struct {
	pool *WorkerPool
}

// NewEngineService creates an EngineService.
func NewEngineService(pool *WorkerPool) *EngineService {
	return &EngineService{pool: pool}
}

// Verify verifies one method or the whole image.
func (s *EngineService) Verify(
	ctx context.Context,
	req *connect.Request[VerifyRequest],
) (*connect.Response[VerifyResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}

	result, _, err := s.pool.Do(ctx, func(p *vm.Process) (any, error) {
		mod, err := loadImage(p, req.Msg.Image)
		if err != nil {
			return nil, err
		}
		var outcomes []vm.Outcome
		if req.Msg.Method != "" {
			m, err := findMethod(p, req.Msg.Method)
			if err != nil {
				return nil, err
			}
			res, verr := p.Verify(m)
			outcomes = []vm.Outcome{{Method: m, Result: res, Err: verr}}
		} else {
			outcomes = p.VerifyModule(mod)
		}
		resp := &VerifyResponse{}
		for _, o := range outcomes {
			resp.Results = append(resp.Results, methodResult(o))
		}
		return resp, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(result.(*VerifyResponse)), nil
}

// Run invokes a static method on a fresh process. A managed exception is
// part of a successful response; only host failures are RPC errors.
func (s *EngineService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}
	if req.Msg.Method == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("method is required"))
	}

	runCtx := ctx
	if req.Msg.TimeoutMillis > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.Msg.TimeoutMillis)*time.Millisecond)
		defer cancel()
	}

	result, output, err := s.pool.Do(ctx, func(p *vm.Process) (any, error) {
		if _, err := loadImage(p, req.Msg.Image); err != nil {
			return nil, err
		}
		m, err := findMethod(p, req.Msg.Method)
		if err != nil {
			return nil, err
		}
		th := p.NewThread()
		defer th.Close()
		args, err := vm.ParseArgs(th, m, req.Msg.Args)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}

		ret, err := th.Invoke(runCtx, m, args...)
		resp := &RunResponse{Conversions: p.Stats().Conversions}
		var me *vm.ManagedError
		switch {
		case errors.As(err, &me):
			resp.Exception = exception(me)
		case err != nil:
			return nil, err
		case m.Signature.Return.Kind != metadata.ElemVoid:
			resp.Return = ret.String()
		}
		return resp, nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	resp := result.(*RunResponse)
	resp.Output = output
	return connect.NewResponse(resp), nil
}

// Disassemble lists one method or the whole image.
func (s *EngineService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	if len(req.Msg.Image) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("image is required"))
	}

	result, _, err := s.pool.Do(ctx, func(p *vm.Process) (any, error) {
		mod, err := loadImage(p, req.Msg.Image)
		if err != nil {
			return nil, err
		}
		if req.Msg.Method == "" {
			return image.Disassemble(mod), nil
		}
		m, err := findMethod(p, req.Msg.Method)
		if err != nil {
			return nil, err
		}
		return image.DisassembleMethod(mod, m), nil
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&DisassembleResponse{Listing: result.(string)}), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func loadImage(p *vm.Process, data []byte) (*metadata.Module, error) {
	mod, err := image.Load(p, data)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return mod, nil
}

func findMethod(p *vm.Process, name string) (*metadata.Method, error) {
	m, err := p.FindMethod(name)
	if err != nil {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return m, nil
}

func methodResult(o vm.Outcome) MethodResult {
	r := MethodResult{Method: o.Method.FullName(), OK: o.Err == nil}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	if o.Result != nil {
		r.Restarts = o.Result.Restarts
		for _, jt := range o.Result.Targets {
			t := Target{Offset: jt.Offset}
			for _, item := range jt.Stack {
				t.Stack = append(t.Stack, item.String())
			}
			r.Targets = append(r.Targets, t)
		}
	}
	return r
}

func exception(me *vm.ManagedError) *Exception {
	if me == nil {
		return nil
	}
	return &Exception{
		Class:      me.Class,
		Message:    me.Message,
		StackTrace: me.StackTrace,
		Inner:      exception(me.Inner),
	}
}

// connectError maps job failures to RPC status codes.
func connectError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
