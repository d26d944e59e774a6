package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
	"gopkg.in/yaml.v3"

	"groovyls/internal/notify"
	"groovyls/internal/workspace"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatHuman OutputFormat = "human"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

func parseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatHuman, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// render writes v as JSON or YAML, or calls human for the terminal form.
func render(w io.Writer, format OutputFormat, v interface{}, human func(io.Writer) error) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		return enc.Close()
	default:
		return human(w)
	}
}

// FileDiagnostics groups the diagnostics of one document.
type FileDiagnostics struct {
	URI         string             `json:"uri" yaml:"uri"`
	Diagnostics []DiagnosticOutput `json:"diagnostics" yaml:"diagnostics"`
}

// DiagnosticOutput is a diagnostic with 1-based positions.
type DiagnosticOutput struct {
	Line      uint32 `json:"line" yaml:"line"`
	Column    uint32 `json:"column" yaml:"column"`
	EndLine   uint32 `json:"endLine" yaml:"endLine"`
	EndColumn uint32 `json:"endColumn" yaml:"endColumn"`
	Severity  string `json:"severity" yaml:"severity"`
	Message   string `json:"message" yaml:"message"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
}

// CheckReport is the result of a one-shot check.
type CheckReport struct {
	Workspace  string                    `json:"workspace" yaml:"workspace"`
	Projects   []workspace.ProjectStatus `json:"projects" yaml:"projects"`
	Files      []FileDiagnostics         `json:"files" yaml:"files"`
	Errors     int                       `json:"errors" yaml:"errors"`
	Warnings   int                       `json:"warnings" yaml:"warnings"`
	Messages   []string                  `json:"messages,omitempty" yaml:"messages,omitempty"`
	DurationMs int64                     `json:"durationMs" yaml:"durationMs"`
}

func buildCheckReport(root string, projects []workspace.ProjectStatus, rec *notify.Recorder) *CheckReport {
	report := &CheckReport{Workspace: root, Projects: projects}

	all := rec.AllDiagnostics()
	uris := make([]string, 0, len(all))
	for u, diags := range all {
		if len(diags) > 0 {
			uris = append(uris, u)
		}
	}
	sort.Strings(uris)

	for _, u := range uris {
		fd := FileDiagnostics{URI: u}
		for _, d := range all[u] {
			switch d.Severity {
			case protocol.DiagnosticSeverityError:
				report.Errors++
			case protocol.DiagnosticSeverityWarning:
				report.Warnings++
			}
			fd.Diagnostics = append(fd.Diagnostics, DiagnosticOutput{
				Line:      d.Range.Start.Line + 1,
				Column:    d.Range.Start.Character + 1,
				EndLine:   d.Range.End.Line + 1,
				EndColumn: d.Range.End.Character + 1,
				Severity:  notify.SeverityName(d.Severity),
				Message:   d.Message,
				Source:    d.Source,
			})
		}
		report.Files = append(report.Files, fd)
	}
	for _, m := range rec.Messages() {
		report.Messages = append(report.Messages, m.Message)
	}
	return report
}

func formatCheckHuman(w io.Writer, r *CheckReport) error {
	var b strings.Builder
	for _, f := range r.Files {
		for _, d := range f.Diagnostics {
			fmt.Fprintf(&b, "%s:%d:%d: %s: %s\n", f.URI, d.Line, d.Column, d.Severity, d.Message)
		}
	}
	if len(r.Files) > 0 {
		b.WriteString("\n")
	}
	for _, m := range r.Messages {
		fmt.Fprintf(&b, "! %s\n", m)
	}
	fmt.Fprintf(&b, "%d projects, %d errors, %d warnings (%dms)\n", len(r.Projects), r.Errors, r.Warnings, r.DurationMs)
	_, err := io.WriteString(w, b.String())
	return err
}

func formatStatusHuman(w io.Writer, r *StatusReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Workspace: %s\n", r.Workspace)
	b.WriteString(strings.Repeat("=", 60) + "\n\n")
	if len(r.Projects) == 0 {
		b.WriteString("No projects discovered.\n")
	}
	for _, p := range r.Projects {
		importer := p.Importer
		if importer == "" {
			importer = "none"
		}
		fmt.Fprintf(&b, "%s (%s)\n", p.Root, importer)
		fmt.Fprintf(&b, "  Resolution:  %s\n", p.Resolution)
		fmt.Fprintf(&b, "  Classpath:   %s, %d entries\n", p.Classpath, p.Entries)
		fmt.Fprintf(&b, "  Compilation: %s, %d files\n", p.Compilation, p.Files)
		if p.LanguageVersion != "" {
			fmt.Fprintf(&b, "  Groovy:      %s\n", p.LanguageVersion)
		}
		if p.ResolutionError != "" {
			fmt.Fprintf(&b, "  Error:       %s\n", p.ResolutionError)
		}
		if p.FailureReason != "" {
			fmt.Fprintf(&b, "  Failure:     %s\n", p.FailureReason)
		}
		b.WriteString("\n")
	}
	if r.Cache != nil {
		fmt.Fprintf(&b, "Cache: %s\n", r.Cache.Path)
		fmt.Fprintf(&b, "  Projects: %d, entries: %d, %d bytes\n", r.Cache.Projects, r.Cache.Entries, r.Cache.BlobBytes)
	} else {
		b.WriteString("Cache: disabled\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
