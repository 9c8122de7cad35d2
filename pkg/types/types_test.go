package types_test

import (
	"testing"

	"github.com/celestius0/angular-cli/pkg/types"
)

func TestExecutionResult_Succeeded(t *testing.T) {
	tests := []struct {
		name        string
		diagnostics []types.Diagnostic
		want        bool
	}{
		{
			name:        "no diagnostics",
			diagnostics: nil,
			want:        true,
		},
		{
			name: "warnings only",
			diagnostics: []types.Diagnostic{
				{Severity: types.SeverityWarning, Text: "unused import"},
				{Severity: types.SeverityInfo, Text: "bundle size"},
			},
			want: true,
		},
		{
			name: "single error",
			diagnostics: []types.Diagnostic{
				{Severity: types.SeverityError, Text: "cannot resolve module"},
			},
			want: false,
		},
		{
			name: "error among warnings",
			diagnostics: []types.Diagnostic{
				{Severity: types.SeverityWarning, Text: "deprecated option"},
				{Severity: types.SeverityError, Text: "syntax error"},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &types.ExecutionResult{Diagnostics: tt.diagnostics}
			if got := r.Succeeded(); got != tt.want {
				t.Errorf("Succeeded() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecutionResult_DisposeOnce(t *testing.T) {
	calls := 0
	r := &types.ExecutionResult{Disposer: func() { calls++ }}

	r.Dispose()
	r.Dispose()
	r.Dispose()

	if calls != 1 {
		t.Errorf("disposer invoked %d times, want exactly 1", calls)
	}
}

func TestExecutionResult_DisposeNilDisposer(t *testing.T) {
	r := &types.ExecutionResult{}
	// Must not panic.
	r.Dispose()
}

func TestChangeBatch_Empty(t *testing.T) {
	b := types.ChangeBatch{}
	if !b.Empty() {
		t.Error("zero batch should be empty")
	}

	b.Modified = []string{"/src/a.ts"}
	if b.Empty() {
		t.Error("batch with modified path should not be empty")
	}
}

func TestChangeBatch_Paths(t *testing.T) {
	b := types.ChangeBatch{
		Added:    []string{"/src/new.ts"},
		Removed:  []string{"/src/old.ts"},
		Modified: []string{"/src/app.ts", "/src/lib.ts"},
	}

	paths := b.Paths()
	if len(paths) != 4 {
		t.Fatalf("Paths() returned %d entries, want 4", len(paths))
	}
}

func TestOutputFile_FullPath(t *testing.T) {
	tests := []struct {
		kind types.OutputKind
		path string
		want string
	}{
		{types.OutputKindBrowser, "main.js", "browser/main.js"},
		{types.OutputKindServer, "server.mjs", "server/server.mjs"},
		{types.OutputKindRoot, "3rdpartylicenses.txt", "3rdpartylicenses.txt"},
	}

	for _, tt := range tests {
		f := types.OutputFile{Path: tt.path, Kind: tt.kind}
		if got := f.FullPath(); got != tt.want {
			t.Errorf("FullPath(%s, %s) = %s, want %s", tt.kind, tt.path, got, tt.want)
		}
	}
}
