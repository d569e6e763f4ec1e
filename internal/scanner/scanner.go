// Package scanner loads raw HTML templates from one or more view roots.
//
// The loader walks every root, reads each file carrying the template
// extension, strips @@ comment @@ blocks, classifies the file as an
// action, shared or fragment template from its folder, derives the
// fully qualified cache name and fingerprints the text. Files are read by a
// small worker pool; a single unreadable file fails the whole load since
// the engine cannot run on a partial template set.
package scanner

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	viewerrors "github.com/conneroisu/vellum/internal/errors"
	"github.com/conneroisu/vellum/internal/types"
)

// Root is a directory templates are loaded from. Templates under a
// partition root get the partition name as the first segment of their
// fully qualified name.
type Root struct {
	Path      string
	Partition string
}

// commentPattern matches @@ ... @@ blocks, shortest first.
var commentPattern = regexp.MustCompile(`(?s)@@.*?@@`)

// Loader reads templates from disk. It remembers the roots of the last
// LoadAll so that LoadOne can map a changed file back to its name.
type Loader struct {
	extension string
	workers   int

	mu    sync.RWMutex
	roots []Root
}

// loadJob is one file to read, together with the root it was found in.
type loadJob struct {
	root Root
	path string
}

// loadResult carries the template read by a worker, or the error.
type loadResult struct {
	tmpl *types.RawTemplate
	err  error
}

// NewLoader creates a loader for files ending in extension (".html").
func NewLoader(extension string) *Loader {
	if extension == "" {
		extension = ".html"
	}
	if !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}

	// Cap at 8 workers for diminishing returns
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Loader{
		extension: strings.ToLower(extension),
		workers:   workers,
	}
}

// Extension returns the template file extension, including the dot.
func (l *Loader) Extension() string {
	return l.extension
}

// Roots returns the absolute roots registered by the last LoadAll.
func (l *Loader) Roots() []Root {
	l.mu.RLock()
	defer l.mu.RUnlock()
	roots := make([]Root, len(l.roots))
	copy(roots, l.roots)
	return roots
}

// LoadAll walks every root and returns all templates found, sorted by
// fully qualified name. An unreadable root or file is an I/O error; finding
// no template at all is reported separately as ERR_NO_TEMPLATES.
func (l *Loader) LoadAll(roots []Root) ([]*types.RawTemplate, error) {
	absRoots := make([]Root, 0, len(roots))
	var jobs []loadJob

	for _, root := range roots {
		abs, err := filepath.Abs(root.Path)
		if err != nil {
			return nil, viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "resolving view root").WithFile(root.Path)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "view root unreadable").WithFile(abs)
		}
		if !info.IsDir() {
			return nil, viewerrors.NewIOError(viewerrors.ErrCodeIO, "view root is not a directory", nil).WithFile(abs)
		}

		absRoot := Root{Path: abs, Partition: root.Partition}
		absRoots = append(absRoots, absRoot)

		err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !l.hasExtension(path) {
				return nil
			}
			jobs = append(jobs, loadJob{root: absRoot, path: path})
			return nil
		})
		if err != nil {
			return nil, viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "walking view root").WithFile(abs)
		}
	}

	l.mu.Lock()
	l.roots = absRoots
	l.mu.Unlock()

	if len(jobs) == 0 {
		paths := make([]string, len(absRoots))
		for i, r := range absRoots {
			paths[i] = r.Path
		}
		return nil, viewerrors.ErrNoTemplates(paths)
	}

	templates, err := l.readAll(jobs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(templates))
	for _, tmpl := range templates {
		if other, dup := seen[tmpl.FullyQualifiedName]; dup {
			return nil, viewerrors.NewValidationError(
				viewerrors.ErrCodeValidationFailed,
				fmt.Sprintf("duplicate template name %s (%s and %s)", tmpl.FullyQualifiedName, other, tmpl.FilePath),
			).WithTemplate(tmpl.FullyQualifiedName)
		}
		seen[tmpl.FullyQualifiedName] = tmpl.FilePath
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].FullyQualifiedName < templates[j].FullyQualifiedName
	})
	return templates, nil
}

// readAll fans the jobs out to the worker pool and gathers the results.
func (l *Loader) readAll(jobs []loadJob) ([]*types.RawTemplate, error) {
	jobChan := make(chan loadJob)
	resultChan := make(chan loadResult, len(jobs))

	workers := l.workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobChan {
				tmpl, err := l.readFile(job.root, job.path)
				resultChan <- loadResult{tmpl: tmpl, err: err}
			}
		}()
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)
	wg.Wait()
	close(resultChan)

	templates := make([]*types.RawTemplate, 0, len(jobs))
	var errs []error
	for result := range resultChan {
		if result.err != nil {
			errs = append(errs, result.err)
			continue
		}
		templates = append(templates, result.tmpl)
	}

	if len(errs) > 0 {
		return nil, errs[0]
	}
	return templates, nil
}

// LoadOne reloads a single file. It returns (nil, nil) when the file no
// longer exists.
func (l *Loader) LoadOne(path string) (*types.RawTemplate, error) {
	root, abs, err := l.rootFor(path)
	if err != nil {
		return nil, err
	}

	tmpl, err := l.readFile(root, abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return tmpl, nil
}

// NameFor returns the fully qualified name path would be loaded under,
// whether or not the file still exists.
func (l *Loader) NameFor(path string) (string, error) {
	root, abs, err := l.rootFor(path)
	if err != nil {
		return "", err
	}
	return FullyQualifiedName(root, abs, l.extension)
}

// Owns reports whether path is a template file under one of the roots.
func (l *Loader) Owns(path string) bool {
	if !l.hasExtension(path) {
		return false
	}
	_, _, err := l.rootFor(path)
	return err == nil
}

func (l *Loader) hasExtension(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == l.extension
}

// rootFor finds the most specific root containing path.
func (l *Loader) rootFor(path string) (Root, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Root{}, "", viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "resolving template path").WithFile(path)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	best := -1
	for i, root := range l.roots {
		rel, err := filepath.Rel(root.Path, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		if best < 0 || len(root.Path) > len(l.roots[best].Path) {
			best = i
		}
	}
	if best < 0 {
		return Root{}, "", viewerrors.NewValidationError(
			viewerrors.ErrCodeValidationFailed,
			"path is outside every view root",
		).WithFile(abs)
	}
	return l.roots[best], abs, nil
}

func (l *Loader) readFile(root Root, path string) (*types.RawTemplate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "reading template").WithFile(path)
	}

	name, err := FullyQualifiedName(root, path, l.extension)
	if err != nil {
		return nil, err
	}

	return NewRawTemplate(name, root.Partition, path, string(content)), nil
}

// NewRawTemplate builds a RawTemplate from its name and file content. It
// strips comments, classifies the template and fingerprints the result.
// rootPartition is the partition of the root the file was loaded from.
func NewRawTemplate(name, rootPartition, path, content string) *types.RawTemplate {
	text := StripComments(content)
	partition, scope := DeriveScope(name, rootPartition)

	segments := strings.Split(name, "/")
	return &types.RawTemplate{
		LogicalName:        segments[len(segments)-1],
		FullyQualifiedName: name,
		Partition:          partition,
		ScopeOwner:         scope,
		Kind:               Classify(name),
		RawText:            text,
		Fingerprint:        Fingerprint(text),
		FilePath:           path,
		LoadedAt:           time.Now(),
	}
}

// FullyQualifiedName derives the cache key for path: relative to the root,
// prefixed with the root's partition, extension removed, '/' separated and
// NFC normalized.
func FullyQualifiedName(root Root, path, extension string) (string, error) {
	rel, err := filepath.Rel(root.Path, path)
	if err != nil {
		return "", viewerrors.WrapIO(err, viewerrors.ErrCodeIO, "deriving template name").WithFile(path)
	}

	if ext := filepath.Ext(rel); strings.EqualFold(ext, extension) {
		rel = rel[:len(rel)-len(ext)]
	}
	name := filepath.ToSlash(rel)
	if root.Partition != "" {
		name = root.Partition + "/" + name
	}
	return norm.NFC.String(name), nil
}

// StripComments removes every @@ ... @@ block.
func StripComments(text string) string {
	if !strings.Contains(text, "@@") {
		return text
	}
	return commentPattern.ReplaceAllString(text, "")
}

// Fingerprint returns the hex encoded 128-bit BLAKE2b hash of text.
func Fingerprint(text string) string {
	// blake2b.New only fails for sizes above 64 or oversized keys
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Classify returns the Kind for a fully qualified name from its folder
// segments. A "Fragments" folder wins over a "Shared" folder.
func Classify(name string) types.Kind {
	segments := strings.Split(name, "/")
	kind := types.KindAction
	for _, segment := range segments[:len(segments)-1] {
		switch {
		case strings.EqualFold(segment, "fragments"):
			return types.KindFragment
		case strings.EqualFold(segment, "shared"):
			kind = types.KindShared
		}
	}
	return kind
}

// DeriveScope splits a fully qualified name into partition and scope owner.
// Names from a partition root yield the partition and the folder below it;
// names from the global root yield no partition and their first folder.
func DeriveScope(name, rootPartition string) (partition, scope string) {
	segments := strings.Split(name, "/")

	if rootPartition != "" {
		if len(segments) > 2 {
			return segments[0], segments[1]
		}
		return segments[0], ""
	}

	if len(segments) > 1 {
		return "", segments[0]
	}
	return "", ""
}
