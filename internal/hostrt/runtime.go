// Package hostrt is a Go implementation of the kiln runtime contract for
// code executed by the machine interpreter: allocation, error reporting,
// printing, parallel dispatch, tracing, string formatting and math.
package hostrt

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/kiln/abi"
	"github.com/gogpu/kiln/ir"
	"github.com/gogpu/kiln/machine"
)

// DefaultMaxAlloc is the largest allocation kiln_malloc grants.
const DefaultMaxAlloc = 1 << 30

// Options configures a Runtime.
type Options struct {
	// Workers bounds the goroutines of one parallel loop. Zero uses
	// GOMAXPROCS.
	Workers int
	// MaxAlloc is the largest allocation in bytes. Larger requests return
	// the null pointer. Zero uses DefaultMaxAlloc.
	MaxAlloc int64
	// DebugDir receives kiln_debug_to_file output. Empty disables it.
	DebugDir string
	// Stdout receives kiln_print output. Nil uses os.Stdout.
	Stdout io.Writer
	Logger *slog.Logger
}

// DefaultOptions returns the options used by New(nil).
func DefaultOptions() *Options {
	return &Options{
		Workers:  runtime.GOMAXPROCS(0),
		MaxAlloc: DefaultMaxAlloc,
	}
}

// TraceEvent is one kiln_trace record.
type TraceEvent struct {
	ID         int32
	Func       string
	Event      int32
	ParentID   int32
	ValueIndex int32
	Type       ir.Type
	Value      machine.Lanes
	Coords     []int32
}

// Runtime holds the state of the runtime for one interpreter.
type Runtime struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	errors []string
	traces []TraceEvent
	allocs int
}

// New creates a runtime. A nil opts uses DefaultOptions.
func New(opts *Options) *Runtime {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MaxAlloc <= 0 {
		o.MaxAlloc = DefaultMaxAlloc
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	log := o.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runtime{opts: o, log: log}
}

// Errors returns the messages reported through kiln_error, in order.
func (r *Runtime) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

// Traces returns the recorded trace events, in order.
func (r *Runtime) Traces() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.traces...)
}

// Allocations returns the number of kiln_malloc calls that succeeded.
func (r *Runtime) Allocations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocs
}

// Externs returns the runtime functions and math library, keyed by name.
func (r *Runtime) Externs() map[string]machine.Extern {
	ext := map[string]machine.Extern{
		abi.FuncMalloc:       r.malloc,
		abi.FuncFree:         r.free,
		abi.FuncError:        r.reportError,
		abi.FuncPrint:        r.printMessage,
		abi.FuncDoParFor:     r.doParFor,
		abi.FuncTrace:        r.trace,
		abi.FuncDebugToFile:  r.debugToFile,
		abi.FuncMemcpy:       memcpy,
		abi.FuncStringToStr:  stringToString,
		abi.FuncInt64ToStr:   int64ToString,
		abi.FuncUint64ToStr:  uint64ToString,
		abi.FuncDoubleToStr:  doubleToString,
		abi.FuncPointerToStr: pointerToString,
		abi.FuncBufferToStr:  bufferToString,
	}
	for name, fn := range mathExterns() {
		ext[name] = fn
	}
	return ext
}

// Names returns the name of every extern a Runtime provides, sorted.
func Names() []string {
	ext := New(nil).Externs()
	names := make([]string, 0, len(ext))
	for n := range ext {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) malloc(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	size := int64(args[1][0])
	if size < 0 || size > r.opts.MaxAlloc {
		r.log.Warn("allocation refused", "bytes", size)
		return machine.Lanes{0}, nil
	}
	r.mu.Lock()
	r.allocs++
	r.mu.Unlock()
	return machine.Lanes{in.Memory().Alloc(int(size), "heap")}, nil
}

func (r *Runtime) free(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	if p := args[1][0]; p != 0 {
		return nil, in.Memory().Free(p)
	}
	return nil, nil
}

func (r *Runtime) reportError(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	msg, err := in.Memory().CString(args[1][0])
	if err != nil {
		return nil, err
	}
	r.log.Warn("runtime error", "message", msg)
	r.mu.Lock()
	r.errors = append(r.errors, msg)
	r.mu.Unlock()
	return nil, nil
}

func (r *Runtime) printMessage(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	msg, err := in.Memory().CString(args[1][0])
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = io.WriteString(r.opts.Stdout, msg)
	return nil, err
}

// doParFor runs fn(ctx, i, closure) for every i in [min, min+extent) on a
// bounded set of goroutines. It returns zero when every call succeeded,
// otherwise the status of the failing iteration with the lowest index.
func (r *Runtime) doParFor(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	ctx, fn, closure := args[0], args[1][0], args[4]
	lo := args[2].Int(ir.I32, 0)
	extent := args[3].Int(ir.I32, 0)
	if extent <= 0 {
		return machine.IntLanes(ir.I32, 0), nil
	}

	statuses := make([]int64, extent)
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for k := int64(0); k < extent; k++ {
		k := k
		g.Go(func() error {
			idx := machine.IntLanes(ir.I32, lo+k)
			status, err := in.CallAddr(fn, ctx, idx, closure)
			if err != nil {
				return fmt.Errorf("parallel iteration %d: %w", lo+k, err)
			}
			statuses[k] = status.Int(ir.I32, 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for k, s := range statuses {
		if s != 0 {
			r.log.Warn("parallel iteration failed", "index", lo+int64(k), "status", s)
			return machine.IntLanes(ir.I32, s), nil
		}
	}
	return machine.IntLanes(ir.I32, 0), nil
}

func (r *Runtime) trace(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	mem := in.Memory()
	p := args[1][0]
	raw, err := mem.Bytes(p, abi.TraceEventSize)
	if err != nil {
		return nil, err
	}
	u64 := func(off int) uint64 { v, _ := mem.ReadUint(p+uint64(off), 8); return v }
	i32 := func(off int) int32 { v, _ := mem.ReadUint(p+uint64(off), 4); return int32(v) }
	lanes, _ := mem.ReadUint(p+abi.TraceOffsetLanes, 2)

	ev := TraceEvent{
		Event:      i32(abi.TraceOffsetEvent),
		ParentID:   i32(abi.TraceOffsetParentID),
		ValueIndex: i32(abi.TraceOffsetValueIndex),
		Type: ir.Type{
			Code:  ir.TypeCode(raw[abi.TraceOffsetTypeCode]),
			Bits:  int(raw[abi.TraceOffsetBits]),
			Lanes: int(lanes),
		},
	}
	if ev.Func, err = mem.CString(u64(abi.TraceOffsetFunc)); err != nil {
		return nil, err
	}
	size := ev.Type.Bytes()
	for i := 0; i < ev.Type.Lanes; i++ {
		x, err := mem.ReadUint(u64(abi.TraceOffsetValue)+uint64(i*size), size)
		if err != nil {
			return nil, err
		}
		ev.Value = append(ev.Value, x)
	}
	coords := u64(abi.TraceOffsetCoords)
	for i := int32(0); i < i32(abi.TraceOffsetDimensions); i++ {
		c, err := mem.ReadUint(coords+uint64(4*i), 4)
		if err != nil {
			return nil, err
		}
		ev.Coords = append(ev.Coords, int32(c))
	}

	r.mu.Lock()
	ev.ID = int32(len(r.traces) + 1)
	r.traces = append(r.traces, ev)
	r.mu.Unlock()
	return machine.IntLanes(ir.I32, int64(ev.ID)), nil
}

// debugToFile writes the raw elements of a buffer to a file under
// DebugDir. Only the base name of the requested file is used.
func (r *Runtime) debugToFile(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	failed := machine.IntLanes(ir.I32, abi.ErrorCodeDebugToFileFailed)
	if r.opts.DebugDir == "" {
		return failed, nil
	}
	mem := in.Memory()
	name, err := mem.CString(args[1][0])
	if err != nil {
		return nil, err
	}
	buf, data, err := ReadBuffer(mem, args[3][0])
	if err != nil {
		return nil, err
	}
	path := filepath.Join(r.opts.DebugDir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.log.Warn("debug_to_file failed", "path", path, "error", err)
		return failed, nil
	}
	r.log.Debug("wrote buffer", "path", path, "elements", buf.Elements())
	return machine.IntLanes(ir.I32, 0), nil
}

func memcpy(in *machine.Interpreter, args []machine.Lanes) (machine.Lanes, error) {
	mem := in.Memory()
	n := int(args[2][0])
	src, err := mem.Bytes(args[1][0], n)
	if err != nil {
		return nil, err
	}
	dst, err := mem.Bytes(args[0][0], n)
	if err != nil {
		return nil, err
	}
	copy(dst, src)
	return nil, nil
}
