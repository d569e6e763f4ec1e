package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:     "render <template>",
	Aliases: []string{"r"},
	Short:   "Render a template to stdout",
	Long: `Compile and render one template. The name is a fully qualified name
such as Home/Index, or a logical name resolved from --partition and --scope.

Examples:
  vellum render Home/Index -t Title=Hello -t Body=World
  vellum render Index --scope Home
  vellum render Index --partition Admin --scope Users --tags-file tags.yml`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderTags      = tagsValue{}
	renderTagsFile  string
	renderPartition string
	renderScope     string
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().VarP(renderTags, "tag", "t", "Tag value as key=value (repeatable)")
	renderCmd.Flags().StringVar(&renderTagsFile, "tags-file", "", "YAML file with tag values")
	renderCmd.Flags().StringVar(&renderPartition, "partition", "", "Partition to resolve the template from")
	renderCmd.Flags().StringVar(&renderScope, "scope", "", "Scope owner to resolve the template from")
}

func runRender(cmd *cobra.Command, args []string) error {
	tags := make(map[string]string)
	if renderTagsFile != "" {
		fileTags, err := readTagsFile(renderTagsFile)
		if err != nil {
			return err
		}
		for k, v := range fileTags {
			tags[k] = v
		}
	}
	// flags win over the file
	for k, v := range renderTags {
		tags[k] = v
	}

	s, err := loadSession()
	if err != nil {
		return err
	}
	if _, err := s.engine.CompileAll(); err != nil {
		s.logger.Warn(cmd.Context(), err, "some templates failed to compile")
	}

	var out string
	if renderPartition != "" || renderScope != "" {
		out, err = s.engine.RenderView(renderPartition, renderScope, args[0], tags)
	} else {
		out, err = s.engine.Render(args[0], tags)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
	return err
}
