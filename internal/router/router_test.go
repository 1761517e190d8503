package router

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/ir"
)

func TestSetDispatchesByPriority(t *testing.T) {
	var out, errOut bytes.Buffer
	low := NewWriterRouter("console", 10, &out, &errOut)
	capture := NewBufferRouter("capture", 30, Stdout)
	s := NewSet(low, capture)

	require.NoError(t, s.Write(T, "hello"))
	require.NoError(t, s.Write(Stderr, "bad"))

	assert.Equal(t, "hello", capture.String(Stdout))
	assert.Empty(t, out.String(), "higher priority router consumes stdout")
	assert.Equal(t, "bad", errOut.String())

	require.NoError(t, s.Deactivate("capture"))
	require.NoError(t, s.Writef(Stdout, "%d apples", 3))
	assert.Equal(t, "3 apples", out.String())

	require.NoError(t, s.Activate("capture"))
	require.NoError(t, s.Remove("capture"))
	assert.ErrorIs(t, s.Remove("capture"), ir.ErrNotFound)
}

func TestSetRejectsDuplicateNames(t *testing.T) {
	s := NewSet(NewBufferRouter("b", 0))
	assert.ErrorIs(t, s.Add(NewBufferRouter("b", 5)), ir.ErrDuplicate)
}

func TestUnknownLogicalName(t *testing.T) {
	s := NewSet(NewWriterRouter("console", 10, &bytes.Buffer{}, nil))
	assert.NoError(t, s.Write(Stdwrn, "ok"))
	assert.ErrorIs(t, s.Write("report", "x"), ir.ErrNotFound)
	assert.False(t, s.Query("report"))

	s.Add(NewBufferRouter("report", 5, "report"))
	assert.True(t, s.Query("report"))
	assert.NoError(t, s.Write("report", "x"))
}

func TestErrorRouterPassesThrough(t *testing.T) {
	var errOut bytes.Buffer
	er := NewErrorRouter()
	s := NewSet(NewWriterRouter("console", 10, &bytes.Buffer{}, &errOut), er)

	require.NoError(t, s.Write(Stderr, "[EXPRNPSR1] boom\n"))
	assert.Equal(t, "[EXPRNPSR1] boom\n", errOut.String())
	assert.Equal(t, "[EXPRNPSR1] boom", er.Last())
	assert.Equal(t, "", er.Last(), "Last clears the record")
}

func TestReadAndUnread(t *testing.T) {
	w := NewWriterRouter("console", 10, &bytes.Buffer{}, nil).WithInput(strings.NewReader("first\nsecond\n"))
	s := NewSet(w)

	line, err := s.Read(Stdin)
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	require.NoError(t, s.Unread(Stdin, "again"))
	line, err = s.Read(Stdin)
	require.NoError(t, err)
	assert.Equal(t, "again", line)

	line, err = s.Read(Stdin)
	require.NoError(t, err)
	assert.Equal(t, "second", line)
}

func TestLoggingRouterBuffersLines(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	lr := NewLoggingRouter("log", 10, logger)
	s := NewSet(lr)

	require.NoError(t, s.Write(Stdout, "partial "))
	assert.Empty(t, buf.String())
	require.NoError(t, s.Write(Stdout, "line\nnext"))
	assert.Contains(t, buf.String(), `msg="partial line"`)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.NotContains(t, buf.String(), "next")

	require.NoError(t, s.Write(Stdwrn, "careful\n"))
	assert.Contains(t, buf.String(), "level=WARN")

	s.Exit(0)
	assert.Contains(t, buf.String(), "msg=next")
}
