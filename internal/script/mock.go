// Package script runs mock responder scripts written in Lua.
//
// A script is used in one of three ways:
//
//   - It defines on_message(data) and/or on_tick(). The handlers run for each
//     inbound payload and each interval tick respectively.
//   - It is valid Lua without handlers. The whole chunk runs per invocation
//     with the inbound payload in the global data (nil on ticks).
//   - It is not Lua at all. The text itself is sent back as a canned reply.
//
// Scripts talk to the session through the mock module: mock.reply(v),
// mock.log(msg), mock.get(json, path), mock.set(json, path, v),
// mock.encode(v) and mock.decode(s).
package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/iksnae/sockdebug/internal"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultTimeout bounds a single handler run
const DefaultTimeout = 2 * time.Second

const (
	handlerMessage = "on_message"
	handlerTick    = "on_tick"
)

// ErrClosed is returned by invocations after Close
var ErrClosed = errors.New("script closed")

// Error reports a failure compiling or running a script
type Error struct {
	Op  string // "compile", "on_message", "on_tick", "run"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("script error: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Mode is how a script responds
type Mode string

const (
	ModeHandlers Mode = "handlers"
	ModeChunk    Mode = "chunk"
	ModeCanned   Mode = "canned"
)

// Replier delivers a reply produced by a script
type Replier func(data any)

// Option configures a Mock
type Option func(*Mock)

// WithTimeout bounds each handler run
func WithTimeout(d time.Duration) Option {
	return func(m *Mock) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// Mock is a compiled mock script. A Mock is not meant for concurrent use;
// calls are serialised.
type Mock struct {
	source  string
	mode    Mode
	reply   Replier
	timeout time.Duration

	mu     sync.Mutex
	L      *lua.LState
	chunk  *lua.FunctionProto
	closed bool
	// replies are dropped while the chunk runs for handler discovery
	discovering bool
}

// Compile prepares source for playback. reply receives every value the
// script sends back.
func Compile(source string, reply Replier, opts ...Option) (*Mock, error) {
	if reply == nil {
		return nil, &Error{Op: "compile", Err: errors.New("no reply function")}
	}
	m := &Mock{source: source, reply: reply, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(m)
	}

	if strings.TrimSpace(source) == "" {
		return nil, &Error{Op: "compile", Err: errors.New("empty script")}
	}

	proto, err := compileChunk(source)
	if err != nil {
		internal.LogDebug("Mock script is not Lua, using it as a canned reply: %v", err)
		m.mode = ModeCanned
		return m, nil
	}
	m.chunk = proto
	m.L = newState()
	m.L.SetGlobal("mock", m.L.SetFuncs(m.L.NewTable(), m.api()))

	// Run the chunk once to discover handlers. A plain chunk may fail here
	// because data is nil; it only has to succeed when it defines handlers.
	m.discovering = true
	err = m.run(context.Background(), "compile", func(L *lua.LState) error {
		L.Push(L.NewFunctionFromProto(proto))
		return L.PCall(0, lua.MultRet, nil)
	})
	m.discovering = false

	if m.hasHandler(handlerMessage) || m.hasHandler(handlerTick) {
		if err != nil {
			m.L.Close()
			return nil, err
		}
		m.mode = ModeHandlers
		return m, nil
	}
	if err != nil {
		internal.LogDebug("Mock chunk failed without input: %v", err)
	}
	m.mode = ModeChunk
	return m, nil
}

func compileChunk(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "mock")
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, "mock")
}

// newState opens only the side-effect free standard libraries
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Mode reports how the script responds
func (m *Mock) Mode() Mode {
	return m.mode
}

// Source returns the script text
func (m *Mock) Source() string {
	return m.source
}

// OnMessage runs the script for one inbound payload
func (m *Mock) OnMessage(ctx context.Context, data any) error {
	switch m.mode {
	case ModeCanned:
		m.reply(internal.Parse(m.source))
		return nil
	case ModeChunk:
		return m.runChunk(ctx, data)
	}
	if !m.hasHandler(handlerMessage) {
		return nil
	}
	return m.call(ctx, handlerMessage, data)
}

// OnTick runs the script for one interval tick
func (m *Mock) OnTick(ctx context.Context) error {
	switch m.mode {
	case ModeCanned:
		m.reply(internal.Parse(m.source))
		return nil
	case ModeChunk:
		return m.runChunk(ctx, nil)
	}
	if !m.hasHandler(handlerTick) {
		return nil
	}
	return m.call(ctx, handlerTick)
}

// Caller adapts the mock to the engine. Interval mockers only ever tick.
func (m *Mock) Caller(interval bool) internal.CallerFunc {
	if interval {
		return func(ctx context.Context, _ any) error {
			return m.OnTick(ctx)
		}
	}
	return m.OnMessage
}

// Close releases the Lua state. It is safe to call more than once.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.L != nil {
		m.L.Close()
	}
	return nil
}

func (m *Mock) hasHandler(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.L == nil {
		return false
	}
	return m.L.GetGlobal(name).Type() == lua.LTFunction
}

func (m *Mock) call(ctx context.Context, name string, args ...any) error {
	return m.run(ctx, name, func(L *lua.LState) error {
		L.Push(L.GetGlobal(name))
		for _, a := range args {
			L.Push(toLua(L, a))
		}
		return L.PCall(len(args), 0, nil)
	})
}

func (m *Mock) runChunk(ctx context.Context, data any) error {
	return m.run(ctx, "run", func(L *lua.LState) error {
		L.SetGlobal("data", toLua(L, data))
		L.Push(L.NewFunctionFromProto(m.chunk))
		return L.PCall(0, 0, nil)
	})
}

// run executes fn against the state with a deadline and panic recovery
func (m *Mock) run(ctx context.Context, op string, fn func(L *lua.LState) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &Error{Op: op, Err: ErrClosed}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	m.L.SetContext(ctx)
	defer m.L.RemoveContext()

	top := m.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Op: op, Err: fmt.Errorf("lua panic: %v", r)}
		}
		m.L.SetTop(top)
	}()

	if err := fn(m.L); err != nil {
		return &Error{Op: op, Err: err}
	}
	return nil
}

func (m *Mock) api() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"reply":  m.luaReply,
		"log":    luaLog,
		"get":    luaGet,
		"set":    luaSet,
		"encode": luaEncode,
		"decode": luaDecode,
	}
}

// mock.reply(value)
func (m *Mock) luaReply(L *lua.LState) int {
	if m.discovering {
		return 0
	}
	m.reply(toGo(L.CheckAny(1)))
	return 0
}

// mock.log(message)
func luaLog(L *lua.LState) int {
	internal.LogInfo("mock: %s", L.ToStringMeta(L.CheckAny(1)).String())
	return 0
}

// mock.get(json, path) returns the value at a gjson path, nil when absent
func luaGet(L *lua.LState) int {
	doc := jsonArg(L, 1)
	path := L.CheckString(2)
	res := gjson.Get(doc, path)
	if !res.Exists() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, res.Value()))
	return 1
}

// mock.set(json, path, value) returns the document with value set at path
func luaSet(L *lua.LState) int {
	doc := jsonArg(L, 1)
	path := L.CheckString(2)
	out, err := sjson.Set(doc, path, toGo(L.CheckAny(3)))
	if err != nil {
		L.RaiseError("mock.set: %v", err)
		return 0
	}
	L.Push(lua.LString(out))
	return 1
}

// mock.encode(value) returns canonical JSON text
func luaEncode(L *lua.LState) int {
	L.Push(lua.LString(internal.Stringify(toGo(L.CheckAny(1)))))
	return 1
}

// mock.decode(text) leniently parses JSON text; non-JSON comes back as is
func luaDecode(L *lua.LState) int {
	L.Push(toLua(L, internal.Parse(L.CheckString(1))))
	return 1
}

// jsonArg accepts either JSON text or a table, which is encoded first
func jsonArg(L *lua.LState, n int) string {
	v := L.CheckAny(n)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return internal.Stringify(toGo(v))
}
