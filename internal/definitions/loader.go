package definitions

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/nourishbot/internal/models"
)

const (
	AgentsFile = "agents.yaml"
	TasksFile  = "tasks.yaml"
)

// ErrConfigLoad marks a missing or malformed definitions file.
var ErrConfigLoad = errors.New("failed to load definitions")

//go:embed config/*.yaml
var embedded embed.FS

// Definitions holds both YAML documents. Raw keeps every record verbatim so
// callers can read fields the typed views do not declare.
type Definitions struct {
	Source    string
	RawAgents map[string]map[string]any
	RawTasks  map[string]map[string]any
	Agents    map[string]*models.AgentDef
	Tasks     map[string]*models.TaskDef
}

// Load reads agents.yaml and tasks.yaml from dir. An empty dir selects the
// copies embedded next to this package.
func Load(dir string) (*Definitions, error) {
	var fsys fs.FS
	source := dir
	if dir == "" {
		sub, err := fs.Sub(embedded, "config")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigLoad, err)
		}
		fsys = sub
		source = "embedded"
	} else {
		fsys = os.DirFS(dir)
	}

	rawAgents, err := readDocument(fsys, AgentsFile)
	if err != nil {
		return nil, err
	}
	rawTasks, err := readDocument(fsys, TasksFile)
	if err != nil {
		return nil, err
	}

	d := &Definitions{
		Source:    source,
		RawAgents: rawAgents,
		RawTasks:  rawTasks,
		Agents:    make(map[string]*models.AgentDef, len(rawAgents)),
		Tasks:     make(map[string]*models.TaskDef, len(rawTasks)),
	}

	for name, rec := range rawAgents {
		var def models.AgentDef
		if err := decode(rec, &def); err != nil {
			return nil, fmt.Errorf("%w: agent %q in %s: %v", ErrConfigLoad, name, AgentsFile, err)
		}
		d.Agents[name] = &def
	}
	for name, rec := range rawTasks {
		var def models.TaskDef
		if err := decode(rec, &def); err != nil {
			return nil, fmt.Errorf("%w: task %q in %s: %v", ErrConfigLoad, name, TasksFile, err)
		}
		d.Tasks[name] = &def
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return d, nil
}

func readDocument(fsys fs.FS, name string) (map[string]map[string]any, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfigLoad, name, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrConfigLoad, name, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%w: %s defines no entries", ErrConfigLoad, name)
	}

	out := make(map[string]map[string]any, len(doc))
	for key, v := range doc {
		rec, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: entry %q is not a mapping", ErrConfigLoad, name, key)
		}
		out[key] = rec
	}
	return out, nil
}

func decode(rec map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(rec); err != nil {
		return err
	}
	trimStrings(out)
	return nil
}

// trimStrings removes the trailing newline that YAML folded scalars leave.
func trimStrings(out any) {
	switch v := out.(type) {
	case *models.AgentDef:
		v.Role = strings.TrimSpace(v.Role)
		v.Goal = strings.TrimSpace(v.Goal)
		v.Backstory = strings.TrimSpace(v.Backstory)
	case *models.TaskDef:
		v.Description = strings.TrimSpace(v.Description)
		v.ExpectedOutput = strings.TrimSpace(v.ExpectedOutput)
		v.Agent = strings.TrimSpace(v.Agent)
	}
}

// Validate checks cross references between the two documents.
func (d *Definitions) Validate() error {
	for _, name := range sortedKeys(d.Agents) {
		if d.Agents[name].Role == "" {
			return fmt.Errorf("%w: agent %q must have a role", ErrConfigLoad, name)
		}
	}
	for _, name := range sortedKeys(d.Tasks) {
		t := d.Tasks[name]
		if t.Description == "" {
			return fmt.Errorf("%w: task %q must have a description", ErrConfigLoad, name)
		}
		if t.ExpectedOutput == "" {
			return fmt.Errorf("%w: task %q must have an expected_output", ErrConfigLoad, name)
		}
		if t.Agent != "" {
			if _, ok := d.Agents[t.Agent]; !ok {
				return fmt.Errorf("%w: task %q references unknown agent %q", ErrConfigLoad, name, t.Agent)
			}
		}
	}
	return nil
}

// Agent returns the named agent definition.
func (d *Definitions) Agent(name string) (*models.AgentDef, error) {
	def, ok := d.Agents[name]
	if !ok {
		return nil, fmt.Errorf("agent %q not defined in %s", name, filepath.Join(d.Source, AgentsFile))
	}
	return def, nil
}

// Task returns the named task definition.
func (d *Definitions) Task(name string) (*models.TaskDef, error) {
	def, ok := d.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("task %q not defined in %s", name, filepath.Join(d.Source, TasksFile))
	}
	return def, nil
}

// AgentNames returns the declared agent identifiers in sorted order.
func (d *Definitions) AgentNames() []string {
	return sortedKeys(d.Agents)
}

// TaskNames returns the declared task identifiers in sorted order.
func (d *Definitions) TaskNames() []string {
	return sortedKeys(d.Tasks)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names returns the agent and task identifiers, each sorted.
func (d *Definitions) Names() (agents []string, tasks []string) {
	return d.AgentNames(), d.TaskNames()
}
