// Package workflowfs loads workflow definitions from a directory of YAML files.
package workflowfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robfig/cron"
	"gopkg.in/yaml.v3"

	"github.com/conveyorci/conveyor/internal/domain/model"
	"github.com/conveyorci/conveyor/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.WorkflowSource = (*Loader)(nil)

// Loader reads *.yml / *.yaml workflow files from a directory.
type Loader struct {
	dir string
}

// NewLoader creates a Loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// workflowDoc mirrors the YAML schema of a workflow file.
type workflowDoc struct {
	Name     string            `yaml:"name"`
	Repo     string            `yaml:"repo"`
	Branch   string            `yaml:"branch"`
	Gate     gateDoc           `yaml:"gate"`
	Schedule string            `yaml:"schedule"`
	Matrix   matrixDoc         `yaml:"matrix"`
	Env      map[string]string `yaml:"env"`
	Steps    []stepDoc         `yaml:"steps"`
}

type gateDoc struct {
	Require []string `yaml:"require"`
	Skip    []string `yaml:"skip"`
}

type matrixDoc struct {
	MaxParallel int                 `yaml:"max-parallel"`
	Axes        map[string][]string `yaml:"axes"`
}

type stepDoc struct {
	Name string `yaml:"name"`
	Uses string `yaml:"uses"`
	Run  string `yaml:"run"`

	// cache step fields
	Path string `yaml:"path"`
	Key  string `yaml:"key"`

	// coverage step fields
	File       string `yaml:"file"`
	Flags      string `yaml:"flags"`
	UploadName string `yaml:"upload-name"`
}

// LoadAll parses every workflow file in the directory. A file that fails to
// parse or validate is reported in errs and skipped; valid files still load.
// Results are sorted by workflow name for deterministic startup logging.
func (l *Loader) LoadAll() ([]model.Workflow, []error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, []error{fmt.Errorf("read workflow dir %s: %w", l.dir, err)}
	}

	var workflows []model.Workflow
	var errs []error
	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		path := filepath.Join(l.dir, entry.Name())
		wf, err := loadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", entry.Name(), err))
			continue
		}

		if prev, dup := seen[wf.Name]; dup {
			errs = append(errs, fmt.Errorf("workflow %s: duplicate name %q (already defined in %s)", entry.Name(), wf.Name, prev))
			continue
		}
		seen[wf.Name] = entry.Name()

		workflows = append(workflows, wf)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].Name < workflows[j].Name })

	return workflows, errs
}

func loadFile(path string) (model.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Workflow{}, fmt.Errorf("read: %w", err)
	}

	var doc workflowDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Workflow{}, fmt.Errorf("parse: %w", err)
	}

	wf, err := mapWorkflow(doc)
	if err != nil {
		return model.Workflow{}, err
	}

	if wf.Name == "" {
		base := filepath.Base(path)
		wf.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return wf, nil
}

func mapWorkflow(doc workflowDoc) (model.Workflow, error) {
	if _, _, err := model.SplitRepo(doc.Repo); err != nil {
		return model.Workflow{}, err
	}

	if len(doc.Steps) == 0 {
		return model.Workflow{}, fmt.Errorf("no steps defined")
	}

	if doc.Schedule != "" {
		if _, err := cron.Parse(doc.Schedule); err != nil {
			return model.Workflow{}, fmt.Errorf("invalid schedule %q: %w", doc.Schedule, err)
		}
	}

	branch := doc.Branch
	if branch == "" {
		branch = "main"
	}

	steps := make([]model.Step, 0, len(doc.Steps))
	for i, sd := range doc.Steps {
		step, err := mapStep(sd)
		if err != nil {
			return model.Workflow{}, fmt.Errorf("step %d (%s): %w", i+1, sd.Name, err)
		}
		steps = append(steps, step)
	}

	return model.Workflow{
		Name:         doc.Name,
		RepoFullName: doc.Repo,
		Branch:       branch,
		Gate: model.Gate{
			Require:     doc.Gate.Require,
			SkipMarkers: doc.Gate.Skip,
		},
		Schedule: doc.Schedule,
		Matrix: model.Matrix{
			Axes:        doc.Matrix.Axes,
			MaxParallel: doc.Matrix.MaxParallel,
		},
		Env:   doc.Env,
		Steps: steps,
	}, nil
}

func mapStep(doc stepDoc) (model.Step, error) {
	kind := doc.Uses
	if kind == "" {
		if doc.Run == "" {
			return model.Step{}, fmt.Errorf("either uses or run is required")
		}
		kind = string(model.StepKindRun)
	}

	step := model.Step{Name: doc.Name, Kind: model.StepKind(kind)}
	if step.Name == "" {
		step.Name = kind
	}

	switch step.Kind {
	case model.StepKindRun:
		if doc.Run == "" {
			return model.Step{}, fmt.Errorf("run command is required")
		}
		step.Run = doc.Run
	case model.StepKindCheckout:
		// No parameters.
	case model.StepKindCache:
		if doc.Path == "" || doc.Key == "" {
			return model.Step{}, fmt.Errorf("cache steps require path and key")
		}
		if filepath.IsAbs(doc.Path) || strings.HasPrefix(doc.Path, "..") {
			return model.Step{}, fmt.Errorf("cache path must be workspace-relative, got %q", doc.Path)
		}
		step.CachePath = doc.Path
		step.CacheKey = doc.Key
	case model.StepKindCoverage:
		if doc.File == "" {
			return model.Step{}, fmt.Errorf("coverage steps require file")
		}
		step.CoverageFile = doc.File
		step.Flags = doc.Flags
		step.UploadName = doc.UploadName
	default:
		return model.Step{}, fmt.Errorf("unknown step kind %q", kind)
	}

	return step, nil
}
