package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no comments", input: "<p>hi</p>", expected: "<p>hi</p>"},
		{name: "single comment", input: "a@@ note @@b", expected: "ab"},
		{name: "non greedy", input: "@@x@@keep@@y@@", expected: "keep"},
		{name: "multiline", input: "a@@one\ntwo@@b", expected: "ab"},
		{name: "unterminated", input: "a@@open", expected: "a@@open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripComments(tt.input))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		expected types.Kind
	}{
		{"Home/Index", types.KindAction},
		{"Shared/Layout", types.KindShared},
		{"Home/Shared/Sidebar", types.KindShared},
		{"Fragments/Nav", types.KindFragment},
		{"Shared/Fragments/Nav", types.KindFragment},
		{"Fragments/Shared/Nav", types.KindFragment},
		{"home/sHaReD/x", types.KindShared},
		{"Index", types.KindAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.name))
		})
	}
}

func TestDeriveScope(t *testing.T) {
	tests := []struct {
		name          string
		rootPartition string
		partition     string
		scope         string
	}{
		{"Home/Index", "", "", "Home"},
		{"Home/Shared/Sidebar", "", "", "Home"},
		{"Index", "", "", ""},
		{"Admin/Users/Index", "Admin", "Admin", "Users"},
		{"Admin/Index", "Admin", "Admin", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partition, scope := DeriveScope(tt.name, tt.rootPartition)
			assert.Equal(t, tt.partition, partition)
			assert.Equal(t, tt.scope, scope)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("<p>a</p>")
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint("<p>a</p>"))
	assert.NotEqual(t, a, Fingerprint("<p>b</p>"))
}

func TestLoaderLoadAll(t *testing.T) {
	dir := t.TempDir()
	views := filepath.Join(dir, "Views")
	admin := filepath.Join(dir, "Partitions", "Admin")

	writeFile(t, filepath.Join(views, "Home", "Index.html"), "<h1>Home</h1>@@ hidden @@")
	writeFile(t, filepath.Join(views, "Shared", "Layout.html"), "<html>%%View%%</html>")
	writeFile(t, filepath.Join(views, "Shared", "Fragments", "Nav.html"), "<nav></nav>")
	writeFile(t, filepath.Join(views, "Home", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(admin, "Users", "Index.HTML"), "<h1>Users</h1>")

	loader := NewLoader(".html")
	templates, err := loader.LoadAll([]Root{
		{Path: views},
		{Path: admin, Partition: "Admin"},
	})
	require.NoError(t, err)
	require.Len(t, templates, 4)

	byName := make(map[string]*types.RawTemplate)
	for _, tmpl := range templates {
		byName[tmpl.FullyQualifiedName] = tmpl
	}

	home := byName["Home/Index"]
	require.NotNil(t, home)
	assert.Equal(t, "<h1>Home</h1>", home.RawText)
	assert.Equal(t, "Index", home.LogicalName)
	assert.Equal(t, "Home", home.ScopeOwner)
	assert.Equal(t, types.KindAction, home.Kind)
	assert.Equal(t, Fingerprint("<h1>Home</h1>"), home.Fingerprint)

	assert.Equal(t, types.KindShared, byName["Shared/Layout"].Kind)
	assert.Equal(t, types.KindFragment, byName["Shared/Fragments/Nav"].Kind)

	users := byName["Admin/Users/Index"]
	require.NotNil(t, users)
	assert.Equal(t, "Admin", users.Partition)
	assert.Equal(t, "Users", users.ScopeOwner)

	// sorted by name
	assert.Equal(t, "Admin/Users/Index", templates[0].FullyQualifiedName)
	assert.Len(t, loader.Roots(), 2)
}

func TestLoaderLoadAllErrors(t *testing.T) {
	t.Run("no templates", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "readme.md"), "x")

		_, err := NewLoader(".html").LoadAll([]Root{{Path: dir}})
		require.Error(t, err)
		assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeNoTemplates))
		assert.False(t, viewerrors.IsIOError(err))
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := NewLoader(".html").LoadAll([]Root{{Path: filepath.Join(t.TempDir(), "missing")}})
		require.Error(t, err)
		assert.True(t, viewerrors.IsIOError(err))
		assert.False(t, viewerrors.HasCode(err, viewerrors.ErrCodeNoTemplates))
	})

	t.Run("duplicate names", func(t *testing.T) {
		dir := t.TempDir()
		views := filepath.Join(dir, "Views")
		admin := filepath.Join(dir, "Admin")
		writeFile(t, filepath.Join(views, "Admin", "Index.html"), "a")
		writeFile(t, filepath.Join(admin, "Index.html"), "b")

		_, err := NewLoader(".html").LoadAll([]Root{{Path: views}, {Path: admin, Partition: "Admin"}})
		require.Error(t, err)
		assert.True(t, viewerrors.HasCode(err, viewerrors.ErrCodeValidationFailed))
	})
}

func TestLoaderLoadOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Home", "Index.html")
	writeFile(t, path, "v1")

	loader := NewLoader("html")
	_, err := loader.LoadAll([]Root{{Path: dir}})
	require.NoError(t, err)

	writeFile(t, path, "v2@@c@@")
	tmpl, err := loader.LoadOne(path)
	require.NoError(t, err)
	require.NotNil(t, tmpl)
	assert.Equal(t, "v2", tmpl.RawText)
	assert.Equal(t, "Home/Index", tmpl.FullyQualifiedName)

	require.NoError(t, os.Remove(path))
	tmpl, err = loader.LoadOne(path)
	require.NoError(t, err)
	assert.Nil(t, tmpl)

	name, err := loader.NameFor(path)
	require.NoError(t, err)
	assert.Equal(t, "Home/Index", name)

	_, err = loader.LoadOne(filepath.Join(t.TempDir(), "x.html"))
	require.Error(t, err)
}

func TestLoaderOwns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.html"), "a")

	loader := NewLoader(".html")
	_, err := loader.LoadAll([]Root{{Path: dir}})
	require.NoError(t, err)

	assert.True(t, loader.Owns(filepath.Join(dir, "b.html")))
	assert.False(t, loader.Owns(filepath.Join(dir, "b.txt")))
	assert.False(t, loader.Owns(filepath.Join(t.TempDir(), "c.html")))
}

func TestFullyQualifiedNameNormalizes(t *testing.T) {
	root := Root{Path: "/views"}
	name, err := FullyQualifiedName(root, "/views/Cafe\u0301/Index.html", ".html")
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9/Index", name)
}
