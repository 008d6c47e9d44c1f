package ux

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serr "github.com/felixgeelhaar/stagehand/internal/errors"
)

type testData struct {
	Name  string `json:"name" yaml:"name"`
	Value int    `json:"value" yaml:"value"`
}

func (d testData) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s=%d\n", d.Name, d.Value)
	return err
}

func TestFormatters(t *testing.T) {
	data := testData{Name: "steps", Value: 3}
	tests := []struct {
		format string
		want   string
	}{
		{"json", "{\n  \"name\": \"steps\",\n  \"value\": 3\n}\n"},
		{"yaml", "name: steps\nvalue: 3\n"},
		{"text", "steps=3\n"},
		{"", "steps=3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			f, err := NewFormatter(tt.format, FormatterOptions{Writer: &buf})
			require.NoError(t, err)
			require.NoError(t, f.Format(data))
			assert.Equal(t, tt.want, buf.String())
		})
	}

	_, err := NewFormatter("xml", FormatterOptions{})
	assert.True(t, serr.HasCode(err, serr.ErrCodeInvalidArgument))
}

func TestFormatters_CompactAndText(t *testing.T) {
	var buf bytes.Buffer
	f, err := NewFormatter("json", FormatterOptions{Writer: &buf, Compact: true})
	require.NoError(t, err)
	require.NoError(t, f.Format(map[string]int{"a": 1}))
	assert.Equal(t, "{\"a\":1}\n", buf.String())

	buf.Reset()
	f, err = NewFormatter("text", FormatterOptions{Writer: &buf})
	require.NoError(t, err)
	require.NoError(t, f.Format("plain"))
	assert.Equal(t, "plain\n", buf.String())
	assert.Error(t, f.Format(42))
}

func TestEnhanceError(t *testing.T) {
	assert.Nil(t, EnhanceError(nil))

	coded := serr.NewPlanInvalidError("no steps")
	assert.Same(t, coded, EnhanceError(coded))

	missing := errors.New("open plan.yaml: no such file or directory")
	var ews *ErrorWithSuggestion
	require.ErrorAs(t, EnhanceError(missing), &ews)
	assert.Contains(t, ews.Suggestion, "plan generate")
	assert.ErrorIs(t, EnhanceError(missing), missing)

	plain := errors.New("something else")
	assert.Equal(t, plain, EnhanceError(plain))

	wrapped := FormatError(errors.New("permission denied"), "write patch")
	assert.Contains(t, wrapped.Error(), "write patch: permission denied")
	assert.Contains(t, wrapped.Error(), "Suggestion:")
}

func TestDiscoverWorkspace(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo/.git", 0o755))
	require.NoError(t, fs.MkdirAll("/repo/svc/.stagehand", 0o755))
	require.NoError(t, fs.MkdirAll("/repo/svc/pkg/deep", 0o755))
	require.NoError(t, fs.MkdirAll("/repo/other", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/outside/stagehand.yaml", nil, 0o644))
	require.NoError(t, fs.MkdirAll("/outside/a/b", 0o755))

	dir, ok := DiscoverWorkspace(fs, "/repo/svc/pkg/deep")
	assert.True(t, ok)
	assert.Equal(t, "/repo/svc", dir)

	dir, ok = DiscoverWorkspace(fs, "/repo/other")
	assert.False(t, ok, "search stops at the git root")
	assert.Equal(t, "/repo/other", dir)

	dir, ok = DiscoverWorkspace(fs, "/outside/a/b/")
	assert.True(t, ok)
	assert.Equal(t, "/outside", dir)
}
