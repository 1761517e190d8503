package router

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// WriterRouter writes stdout and stdwrn to one writer and stderr to
// another, and optionally reads stdin.
type WriterRouter struct {
	name     string
	priority int
	out      io.Writer
	err      io.Writer
	in       *bufio.Reader
	pushback []string
}

// NewWriterRouter creates a router over out and errw. A nil errw sends
// stderr to out.
func NewWriterRouter(name string, priority int, out, errw io.Writer) *WriterRouter {
	if errw == nil {
		errw = out
	}
	return &WriterRouter{name: name, priority: priority, out: out, err: errw}
}

// WithInput attaches a reader for stdin.
func (w *WriterRouter) WithInput(r io.Reader) *WriterRouter {
	w.in = bufio.NewReader(r)
	return w
}

func (w *WriterRouter) Name() string  { return w.name }
func (w *WriterRouter) Priority() int { return w.priority }

func (w *WriterRouter) Query(logical string) bool {
	switch logical {
	case Stdout, Stderr, Stdwrn:
		return true
	case Stdin:
		return w.in != nil
	}
	return false
}

func (w *WriterRouter) Write(logical, text string) error {
	dst := w.out
	if logical == Stderr {
		dst = w.err
	}
	_, err := io.WriteString(dst, text)
	return err
}

// Read returns the next line of input without its newline.
func (w *WriterRouter) Read(string) (string, error) {
	if n := len(w.pushback); n > 0 {
		s := w.pushback[n-1]
		w.pushback = w.pushback[:n-1]
		return s, nil
	}
	line, err := w.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (w *WriterRouter) Unread(_ string, text string) error {
	w.pushback = append(w.pushback, text)
	return nil
}

// BufferRouter captures text per logical name.
type BufferRouter struct {
	name     string
	priority int
	names    map[string]bool
	bufs     map[string]*strings.Builder
}

// NewBufferRouter captures the given logical names, or every name when
// none are given.
func NewBufferRouter(name string, priority int, logical ...string) *BufferRouter {
	b := &BufferRouter{name: name, priority: priority, bufs: make(map[string]*strings.Builder)}
	if len(logical) > 0 {
		b.names = make(map[string]bool, len(logical))
		for _, l := range logical {
			b.names[Canonical(l)] = true
		}
	}
	return b
}

func (b *BufferRouter) Name() string  { return b.name }
func (b *BufferRouter) Priority() int { return b.priority }

func (b *BufferRouter) Query(logical string) bool {
	return b.names == nil || b.names[logical]
}

func (b *BufferRouter) Write(logical, text string) error {
	buf, ok := b.bufs[logical]
	if !ok {
		buf = &strings.Builder{}
		b.bufs[logical] = buf
	}
	buf.WriteString(text)
	return nil
}

// String returns the text captured for a logical name.
func (b *BufferRouter) String(logical string) string {
	if buf, ok := b.bufs[Canonical(logical)]; ok {
		return buf.String()
	}
	return ""
}

// Reset discards captured text.
func (b *BufferRouter) Reset() {
	b.bufs = make(map[string]*strings.Builder)
}

// ErrorRouter records the text written to stderr and passes it on to
// lower priority routers.
type ErrorRouter struct {
	mu   sync.Mutex
	last strings.Builder
}

// ErrorRouterName is the name environments register their ErrorRouter
// under.
const ErrorRouterName = "error-router"

func NewErrorRouter() *ErrorRouter { return &ErrorRouter{} }

func (e *ErrorRouter) Name() string  { return ErrorRouterName }
func (e *ErrorRouter) Priority() int { return 40 }

func (e *ErrorRouter) Query(logical string) bool { return logical == Stderr }

func (e *ErrorRouter) Write(_ string, text string) error {
	e.mu.Lock()
	e.last.WriteString(text)
	e.mu.Unlock()
	return ErrPass
}

// Last returns and clears the recorded text.
func (e *ErrorRouter) Last() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := strings.TrimSpace(e.last.String())
	e.last.Reset()
	return s
}

// LoggingRouter forwards complete lines to a slog.Logger: stdout at Info,
// stdwrn at Warn and stderr at Error.
type LoggingRouter struct {
	name     string
	priority int
	logger   *slog.Logger
	pending  map[string]*strings.Builder
}

func NewLoggingRouter(name string, priority int, logger *slog.Logger) *LoggingRouter {
	return &LoggingRouter{name: name, priority: priority, logger: logger, pending: make(map[string]*strings.Builder)}
}

func (l *LoggingRouter) Name() string  { return l.name }
func (l *LoggingRouter) Priority() int { return l.priority }

func (l *LoggingRouter) Query(logical string) bool {
	return logical == Stdout || logical == Stderr || logical == Stdwrn
}

func (l *LoggingRouter) Write(logical, text string) error {
	buf, ok := l.pending[logical]
	if !ok {
		buf = &strings.Builder{}
		l.pending[logical] = buf
	}
	buf.WriteString(text)
	s := buf.String()
	i := strings.LastIndexByte(s, '\n')
	if i < 0 {
		return nil
	}
	buf.Reset()
	buf.WriteString(s[i+1:])
	for _, line := range strings.Split(s[:i], "\n") {
		l.logger.Log(context.Background(), levelFor(logical), line, "router", logical)
	}
	return nil
}

// Exit flushes partial lines.
func (l *LoggingRouter) Exit(int) {
	for logical, buf := range l.pending {
		if buf.Len() > 0 {
			l.logger.Log(context.Background(), levelFor(logical), buf.String(), "router", logical)
			buf.Reset()
		}
	}
}

func levelFor(logical string) slog.Level {
	switch logical {
	case Stderr:
		return slog.LevelError
	case Stdwrn:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
