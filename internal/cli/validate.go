package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/awmpietro/reaction-sim/internal/app"
	"github.com/awmpietro/reaction-sim/internal/scenario"
)

type FileResult struct {
	File     string            `json:"file"`
	Valid    bool              `json:"valid"`
	Scenario *app.ScenarioInfo `json:"scenario,omitempty"`
	Error    string            `json:"error,omitempty"`
	Defects  []scenario.Defect `json:"defects,omitempty"`
}

var ErrInvalidScenarios = errors.New("invalid scenarios")

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <glob>...",
		Short: "Validate scenario files",
		Long: `Validate DOT, YAML and JSON scenario files. Patterns support ** globs,
for example "scenarios/**/*.yaml". The format is taken from the file extension.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd.OutOrStdout())
		},
	}
}

func runValidate(opts *RootOptions, patterns []string, w io.Writer) error {
	files, err := expandGlobs(patterns)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenario files match %v", patterns)
	}

	rt, err := opts.runtime()
	if err != nil {
		return err
	}
	svc := newService(rt, opts.logger(rt))

	results := make([]FileResult, 0, len(files))
	invalid := 0
	for _, f := range files {
		res := validateFile(svc, f)
		if !res.Valid {
			invalid++
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Fprintf(w, "ok       %s (%s, %d nodes, roots %v)\n", r.File, r.Scenario.ID, r.Scenario.Nodes, r.Scenario.Roots)
				continue
			}
			fmt.Fprintf(w, "invalid  %s: %s\n", r.File, r.Error)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidScenarios, invalid, len(results))
	}
	return nil
}

func validateFile(svc *app.Service, path string) FileResult {
	res := FileResult{File: path}
	format, err := scenario.ParseFormat(filepath.Ext(path))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	info, err := svc.Validate(format, string(data))
	if err != nil {
		res.Error = err.Error()
		var ve *scenario.ValidationError
		if errors.As(err, &ve) {
			res.Defects = ve.Defects
		}
		return res
	}
	res.Valid = true
	res.Scenario = info
	return res
}

// expandGlobs resolves each pattern and returns the sorted, de-duplicated
// list of regular files.
func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}
