package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.lsp.dev/protocol"
)

// JSONLinesSink writes one JSON object per notification.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink writes to w.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

type jsonLine struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

func (s *JSONLinesSink) write(method string, params interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(jsonLine{Method: method, Params: params})
}

func (s *JSONLinesSink) PublishDiagnostics(_ context.Context, p *protocol.PublishDiagnosticsParams) error {
	return s.write("textDocument/publishDiagnostics", p)
}

func (s *JSONLinesSink) ShowMessage(_ context.Context, p *protocol.ShowMessageParams) error {
	return s.write("window/showMessage", p)
}

func (s *JSONLinesSink) StatusUpdate(_ context.Context, st Status) error {
	return s.write("groovy/statusUpdate", st)
}

func (s *JSONLinesSink) MemoryUsage(_ context.Context, m MemoryStats) error {
	return s.write("groovy/memoryUsage", m)
}

// TextSink prints diagnostics and messages for a terminal.
// Status and memory updates are printed only when Verbose is set.
type TextSink struct {
	mu      sync.Mutex
	w       io.Writer
	Verbose bool
}

// NewTextSink writes to w.
func NewTextSink(w io.Writer, verbose bool) *TextSink {
	return &TextSink{w: w, Verbose: verbose}
}

func (s *TextSink) PublishDiagnostics(_ context.Context, p *protocol.PublishDiagnosticsParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(p.Diagnostics) == 0 {
		_, err := fmt.Fprintf(s.w, "%s: clean\n", p.URI)
		return err
	}
	for _, d := range p.Diagnostics {
		if _, err := fmt.Fprintln(s.w, FormatDiagnostic(string(p.URI), d)); err != nil {
			return err
		}
	}
	return nil
}

func (s *TextSink) ShowMessage(_ context.Context, p *protocol.ShowMessageParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "[%s] %s\n", messageTypeName(p.Type), p.Message)
	return err
}

func (s *TextSink) StatusUpdate(_ context.Context, st Status) error {
	if !s.Verbose {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "status %s %s %s\n", st.State, st.Project, st.Message)
	return err
}

func (s *TextSink) MemoryUsage(_ context.Context, m MemoryStats) error {
	if !s.Verbose {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "memory heap=%dMB scopes=%d compiled=%d goroutines=%d\n",
		m.HeapAllocBytes/(1024*1024), m.Scopes, m.CompiledScopes, m.Goroutines)
	return err
}

// FormatDiagnostic renders uri:line:col: severity: message with 1-based positions.
func FormatDiagnostic(docURI string, d protocol.Diagnostic) string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", docURI, d.Range.Start.Line+1, d.Range.Start.Character+1,
		SeverityName(d.Severity), d.Message)
}

// SeverityName returns a lower-case name for s.
func SeverityName(s protocol.DiagnosticSeverity) string {
	switch s {
	case protocol.DiagnosticSeverityError:
		return "error"
	case protocol.DiagnosticSeverityWarning:
		return "warning"
	case protocol.DiagnosticSeverityInformation:
		return "info"
	case protocol.DiagnosticSeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

func messageTypeName(t protocol.MessageType) string {
	switch t {
	case protocol.MessageTypeError:
		return "error"
	case protocol.MessageTypeWarning:
		return "warning"
	case protocol.MessageTypeInfo:
		return "info"
	default:
		return "log"
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu          sync.Mutex
	diagnostics map[string][]protocol.Diagnostic
	publishes   []string
	messages    []protocol.ShowMessageParams
	statuses    []Status
	memory      []MemoryStats
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{diagnostics: make(map[string][]protocol.Diagnostic)}
}

func (r *Recorder) PublishDiagnostics(_ context.Context, p *protocol.PublishDiagnosticsParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := string(p.URI)
	r.diagnostics[u] = append([]protocol.Diagnostic(nil), p.Diagnostics...)
	r.publishes = append(r.publishes, u)
	return nil
}

func (r *Recorder) ShowMessage(_ context.Context, p *protocol.ShowMessageParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *p)
	return nil
}

func (r *Recorder) StatusUpdate(_ context.Context, st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
	return nil
}

func (r *Recorder) MemoryUsage(_ context.Context, m MemoryStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory = append(r.memory, m)
	return nil
}

// Diagnostics returns the last published set for uri.
func (r *Recorder) Diagnostics(docURI string) []protocol.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Diagnostic(nil), r.diagnostics[docURI]...)
}

// AllDiagnostics returns the last published set per URI.
func (r *Recorder) AllDiagnostics() map[string][]protocol.Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]protocol.Diagnostic, len(r.diagnostics))
	for u, d := range r.diagnostics {
		out[u] = append([]protocol.Diagnostic(nil), d...)
	}
	return out
}

// URIsWithDiagnostics returns the URIs whose last set is non-empty, sorted.
func (r *Recorder) URIsWithDiagnostics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for u, d := range r.diagnostics {
		if len(d) > 0 {
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

// PublishOrder returns the URIs in publish order.
func (r *Recorder) PublishOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.publishes...)
}

// Messages returns every ShowMessage.
func (r *Recorder) Messages() []protocol.ShowMessageParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.ShowMessageParams(nil), r.messages...)
}

// Statuses returns every status update.
func (r *Recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

// MemoryReports returns every memory report.
func (r *Recorder) MemoryReports() []MemoryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MemoryStats(nil), r.memory...)
}

// Tee fans notifications out to several sinks. The first error is returned
// after every sink was called.
type Tee []Sink

func (t Tee) each(fn func(Sink) error) error {
	var first error
	for _, s := range t {
		if err := fn(s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t Tee) PublishDiagnostics(ctx context.Context, p *protocol.PublishDiagnosticsParams) error {
	return t.each(func(s Sink) error { return s.PublishDiagnostics(ctx, p) })
}

func (t Tee) ShowMessage(ctx context.Context, p *protocol.ShowMessageParams) error {
	return t.each(func(s Sink) error { return s.ShowMessage(ctx, p) })
}

func (t Tee) StatusUpdate(ctx context.Context, st Status) error {
	return t.each(func(s Sink) error { return s.StatusUpdate(ctx, st) })
}

func (t Tee) MemoryUsage(ctx context.Context, m MemoryStats) error {
	return t.each(func(s Sink) error { return s.MemoryUsage(ctx, m) })
}
