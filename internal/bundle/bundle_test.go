package bundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
)

const manifest = `
bundles:
  site:
    output: /assets/site
    files:
      - /css/reset.css
      - /js/app.js
      - /css/site.css
  scripts:
    files:
      - /js/a.js
`

func TestParseAndLinks(t *testing.T) {
	r, err := Parse([]byte(manifest))
	require.NoError(t, err)
	assert.Equal(t, []string{"scripts", "site"}, r.Names())

	debug, err := r.GetBundleLinks("site", true)
	require.NoError(t, err)
	assert.Equal(t,
		`<link rel="stylesheet" href="/css/reset.css" />`+"\n"+
			`<script src="/js/app.js"></script>`+"\n"+
			`<link rel="stylesheet" href="/css/site.css" />`,
		debug)

	release, err := r.GetBundleLinks("site", false)
	require.NoError(t, err)
	assert.Equal(t,
		`<link rel="stylesheet" href="/assets/site.css" />`+"\n"+
			`<script src="/assets/site.js"></script>`,
		release)

	scripts, err := r.GetBundleLinks("scripts", false)
	require.NoError(t, err)
	assert.Equal(t, `<script src="/bundles/scripts.js"></script>`, scripts)

	files, err := r.GetBundleFileList("site")
	require.NoError(t, err)
	assert.Equal(t, []string{"/css/reset.css", "/js/app.js", "/css/site.css"}, files)
}

func TestMissingBundle(t *testing.T) {
	r := NewRegistry()

	_, err := r.GetBundleLinks("nope", true)
	require.Error(t, err)
	assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeBundleNotFound))

	_, err = r.GetBundleFileList("nope")
	assert.True(t, viewerrors.IsNotFound(err))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.yml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, r.Names(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.True(t, viewerrors.IsIOError(err))

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("bundles: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeConfigInvalid))
}

func TestTag(t *testing.T) {
	assert.Equal(t, `<script src="/a.JS"></script>`, Tag("/a.JS"))
	assert.Equal(t, "", Tag("/img/logo.png"))
	assert.Equal(t, `<link rel="stylesheet" href="/a.css?x=1&amp;y=2" />`, Tag("/a.css?x=1&y=2"))
}

func TestParseRejectsUnsafeAssets(t *testing.T) {
	tests := map[string]string{
		"script scheme": "bundles:\n  x:\n    files: [\"javascript:alert(1)\"]\n",
		"traversal":     "bundles:\n  x:\n    files: [../../etc/site.css]\n",
		"bad output":    "bundles:\n  x:\n    output: '/a\"b'\n    files: [/a.js]\n",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
			assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeConfigInvalid))
		})
	}
}
