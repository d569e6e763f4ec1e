package compiler

import (
	"context"

	"github.com/conneroisu/vellum/internal/logging"
)

// BundleProvider resolves asset bundles for the Bundle directive.
type BundleProvider interface {
	GetBundleLinks(name string, debug bool) (string, error)
	GetBundleFileList(name string) ([]string, error)
}

// BundleDirective returns the Bundle directive backed by provider. A
// bundle that cannot be resolved is dropped with a warning instead of
// failing the compile.
func BundleDirective(provider BundleProvider, logger logging.Logger) DirectiveFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(ctx DirectiveContext, value string) (string, error) {
		links, err := provider.GetBundleLinks(value, ctx.Debug)
		if err != nil {
			logger.Warn(context.Background(), err, "dropping unresolved bundle",
				"template", ctx.Template.FullyQualifiedName,
				"bundle", value)
			return "", nil
		}
		return links, nil
	}
}
