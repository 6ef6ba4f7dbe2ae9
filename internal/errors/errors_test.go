package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaffoldErrorError(t *testing.T) {
	testCases := []struct {
		name     string
		err      *ScaffoldError
		contains []string
	}{
		{
			name:     "code and message",
			err:      NewConfigError(ErrCodeConfigInvalid, "bad config"),
			contains: []string{"[ERR_CONFIG_INVALID]", "bad config"},
		},
		{
			name:     "path and cause",
			err:      NewCompilationError("/tmp/a.tmpl", fmt.Errorf("unexpected EOF")),
			contains: []string{"/tmp/a.tmpl", "template compilation failed", "unexpected EOF"},
		},
		{
			name: "violations",
			err: NewValidationError(ErrCodeVariableInvalid, "invalid variables",
				Violation{Field: "name", Rule: "required", Message: "is required"},
				Violation{Field: "port", Rule: "type", Message: "expected integer"},
			),
			contains: []string{"name: is required", "port: expected integer"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.err.Error()
			for _, part := range tc.contains {
				assert.Contains(t, msg, part)
			}
		})
	}
}

func TestClassification(t *testing.T) {
	cause := fmt.Errorf("boom")

	assert.True(t, IsValidation(NewValidationError(ErrCodeValidationFailed, "x")))
	assert.True(t, IsNotFound(ErrTemplateNotFound("web", "1.0.0")))
	assert.True(t, IsCompilation(NewCompilationError("p", cause)))
	assert.True(t, IsRender(NewRenderError("p", cause)))
	assert.True(t, IsInstallation(NewInstallationError(ErrCodeInstallFailed, "x", cause)))
	assert.True(t, IsInfrastructure(NewInfrastructureError(ErrCodeDirectoryCreate, "x", cause)))
	assert.True(t, IsSecurityError(NewSecurityError(ErrCodeSecurityScanFailed, "x")))

	wrapped := fmt.Errorf("stage failed: %w", NewRenderError("p", cause))
	assert.True(t, IsRender(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(cause))
}

func TestUnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewIOError(ErrCodeFileRead, "read failed", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, &ScaffoldError{Type: ErrorTypeIO, Code: ErrCodeFileRead}))
	assert.False(t, stderrors.Is(err, &ScaffoldError{Type: ErrorTypeIO, Code: ErrCodeCompileFailed}))
}

func TestViolations(t *testing.T) {
	err := NewValidationError(ErrCodeVariableInvalid, "invalid",
		Violation{Field: "a", Rule: "required", Message: "missing"},
	)
	wrapped := fmt.Errorf("resolve: %w", err)

	vs := Violations(wrapped)
	require.Len(t, vs, 1)
	assert.Equal(t, "a", vs[0].Field)
	assert.Nil(t, Violations(fmt.Errorf("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "y"))

	inner := NewValidationError(ErrCodeVariableInvalid, "inner",
		Violation{Field: "a", Message: "bad"}).WithPath("/x")
	outer := Wrap(inner, ErrorTypeConfig, ErrCodeConfigInvalid, "outer")

	assert.Equal(t, ErrorTypeConfig, outer.Type)
	assert.Equal(t, "/x", outer.Path)
	assert.Len(t, outer.Violations, 1)
	assert.True(t, stderrors.Is(outer, inner))

	io := WrapIO(fmt.Errorf("eof"), ErrCodeFileRead, "read")
	assert.False(t, io.Recoverable)
}

func TestErrorCollector(t *testing.T) {
	collector := NewErrorCollector()
	assert.False(t, collector.HasErrors())
	assert.Nil(t, collector.ValidationError(ErrCodeValidationFailed, "x"))

	collector.Add("version", "format", "not a semantic version")
	collector.Add("name", "required", "is required")
	collector.Add("name", "pattern", "invalid characters")
	collector.AddError(nil)

	assert.True(t, collector.HasErrors())
	assert.Len(t, collector.Violations(), 3)
	assert.Equal(t, []string{"name", "version"}, collector.Fields())

	err := collector.ValidationError(ErrCodeDescriptorInvalid, "descriptor invalid")
	require.Error(t, err)
	assert.Len(t, Violations(err), 3)

	collector.Clear()
	assert.False(t, collector.HasErrors())
}

func TestErrorCollectorConcurrent(t *testing.T) {
	collector := NewErrorCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			collector.Add(fmt.Sprintf("f%d", i), "rule", "msg")
			collector.AddError(fmt.Errorf("err %d", i))
		}(i)
	}
	wg.Wait()

	assert.Len(t, collector.Violations(), 50)
	assert.Len(t, collector.Errors(), 50)
}

func TestFormatError(t *testing.T) {
	assert.Equal(t, "", FormatError(nil))
	assert.Equal(t, "plain", FormatError(fmt.Errorf("plain")))

	err := NewValidationError(ErrCodeVariableInvalid, "invalid variables",
		Violation{Field: "name", Message: "is required"})
	assert.Equal(t, "invalid variables\n  • name: is required", FormatError(err))
}

func TestCombineErrors(t *testing.T) {
	assert.Nil(t, CombineErrors(nil, nil))

	single := fmt.Errorf("one")
	assert.Equal(t, single, CombineErrors(nil, single))

	combined := CombineErrors(fmt.Errorf("a"), fmt.Errorf("b"))
	ctx := GetErrorContext(combined)
	assert.Equal(t, 2, ctx["error_count"])
}
