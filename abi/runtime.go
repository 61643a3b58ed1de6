package abi

import "strings"

// Runtime function names. Generated code calls these by name and never
// inlines them. Functions marked as consuming a context take it as their
// first argument.
const (
	FuncMalloc       = "kiln_malloc"
	FuncFree         = "kiln_free"
	FuncError        = "kiln_error"
	FuncPrint        = "kiln_print"
	FuncDoParFor     = "kiln_do_par_for"
	FuncTrace        = "kiln_trace"
	FuncDebugToFile  = "kiln_debug_to_file"
	FuncMemcpy       = "kiln_memcpy"
	FuncStringToStr  = "kiln_string_to_string"
	FuncInt64ToStr   = "kiln_int64_to_string"
	FuncUint64ToStr  = "kiln_uint64_to_string"
	FuncDoubleToStr  = "kiln_double_to_string"
	FuncPointerToStr = "kiln_pointer_to_string"
	FuncBufferToStr  = "kiln_buffer_to_string"

	// ErrorFuncPrefix names the family of specialised error reporters
	// (kiln_error_bad_elem_size, ...). They consume a context and return
	// the status code the failing function must return.
	ErrorFuncPrefix = "kiln_error_"
)

var contextConsumers = map[string]bool{
	FuncMalloc:      true,
	FuncFree:        true,
	FuncError:       true,
	FuncPrint:       true,
	FuncDoParFor:    true,
	FuncTrace:       true,
	FuncDebugToFile: true,
}

// TakesContext reports whether the runtime function name receives the
// opaque context as its first argument.
func TakesContext(name string) bool {
	return contextConsumers[name] || strings.HasPrefix(name, ErrorFuncPrefix)
}

// Status codes returned by generated functions and runtime error reporters.
const (
	StatusSuccess                     = 0
	ErrorCodeGeneric                  = -1
	ErrorCodeExternFailed             = -3
	ErrorCodeBufferAllocationTooLarge = -5
	ErrorCodeBufferExtentsTooLarge    = -6
	ErrorCodeAccessOutOfBounds        = -9
	ErrorCodeOutOfMemory              = -11
	ErrorCodeDebugToFileFailed        = -13
	ErrorCodeInternal                 = -22
	ErrorCodeBufferExtentsNegative    = -28
	ErrorCodeParallelForFailed        = -30
)

// StringBudget is the bounded size of a stringify buffer, per argument kind.
const (
	StringBudgetBase    = 1
	StringBudgetInt     = 19
	StringBudgetFloat32 = 47
	StringBudgetFloat64 = 14
	StringBudgetBuffer  = 512
	StringBudgetHandle  = 18
	StringBudgetAlign   = 16
	StringBudgetMax     = 8192
)

// Trace event kinds passed in TraceEvent.Event.
const (
	TraceLoad = iota
	TraceStore
	TraceBeginRealization
	TraceEndRealization
	TraceProduce
	TraceUpdate
	TraceConsume
	TraceEndConsume
)

// Trace event record layout, as built by generated code and passed by
// pointer to kiln_trace.
//
//	struct trace_event {
//	    const char *func;        //  0
//	    void       *value;       //  8
//	    int32_t    *coordinates; // 16
//	    uint8_t     type_code;   // 24
//	    uint8_t     bits;        // 25
//	    uint16_t    lanes;       // 26
//	    int32_t     event;       // 28
//	    int32_t     parent_id;   // 32
//	    int32_t     value_index; // 36
//	    int32_t     dimensions;  // 40
//	};                           // 48
const (
	TraceOffsetFunc       = 0
	TraceOffsetValue      = 8
	TraceOffsetCoords     = 16
	TraceOffsetTypeCode   = 24
	TraceOffsetBits       = 25
	TraceOffsetLanes      = 26
	TraceOffsetEvent      = 28
	TraceOffsetParentID   = 32
	TraceOffsetValueIndex = 36
	TraceOffsetDimensions = 40
	TraceEventSize        = 48
)

// ClosureAlign is the alignment of each captured value in a parallel
// closure buffer.
const ClosureAlign = 8
