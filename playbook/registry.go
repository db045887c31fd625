package playbook

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chainsentry/reactor/model"
)

// Snapshot is an immutable view of the registry. Readers capture one at
// execution creation and keep it for the execution's lifetime.
type Snapshot struct {
	Playbooks []*Playbook
}

// Resolve returns the playbooks matching the alert, highest specificity
// first, ties broken by playbook id. An empty result is not an error.
func (s *Snapshot) Resolve(alert model.Alert) []*Playbook {
	matched := []*Playbook{}
	for _, pb := range s.Playbooks {
		if pb.Match.Matches(alert) {
			matched = append(matched, pb)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		si, sj := matched[i].Match.Specificity(), matched[j].Match.Specificity()
		if si != sj {
			return si > sj
		}
		return matched[i].PlaybookID < matched[j].PlaybookID
	})
	return matched
}

type Registry struct {
	dir      string
	supports func(StepKind) bool

	snapshot atomic.Pointer[Snapshot]

	mu      sync.Mutex
	archive map[string]*Playbook
}

func NewRegistry(dir string, supports func(StepKind) bool) (*Registry, error) {
	r := &Registry{
		dir:      dir,
		supports: supports,
		archive:  map[string]*Playbook{},
	}
	r.snapshot.Store(&Snapshot{})
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload parses and validates the whole playbook directory, then swaps the
// active snapshot atomically. On any error the prior snapshot stays active,
// so a malformed version never affects running executions.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read playbook dir %s is err: %v", r.dir, err)
	}

	playbooks := []*Playbook{}
	seen := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		pb, err := loadFile(path)
		if err != nil {
			return err
		}
		pb.normalize()
		if err := Validate(pb, r.supports); err != nil {
			return err
		}
		if seen[pb.PlaybookID] {
			return &SchemaError{PlaybookID: pb.PlaybookID, Reason: "duplicate playbook_id in directory"}
		}
		seen[pb.PlaybookID] = true
		playbooks = append(playbooks, pb)
	}

	r.mu.Lock()
	for _, pb := range playbooks {
		r.archive[pb.Key()] = pb
	}
	r.mu.Unlock()

	r.snapshot.Store(&Snapshot{Playbooks: playbooks})
	logrus.Infof("loaded %d playbooks from %s", len(playbooks), r.dir)
	return nil
}

func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Lookup finds an exact playbook version. Superseded versions stay in the
// archive so blocked executions can resume on the version they started with.
func (r *Registry) Lookup(playbookID, version string) (*Playbook, bool) {
	r.mu.Lock()
	pb, ok := r.archive[fmt.Sprintf("%s@%s", playbookID, version)]
	r.mu.Unlock()
	if ok {
		return pb, true
	}
	for _, current := range r.Snapshot().Playbooks {
		if current.PlaybookID == playbookID {
			logrus.Warnf("playbook %s version %s is gone, falling back to version %s", playbookID, version, current.Version)
			return current, true
		}
	}
	return nil, false
}

func loadFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook file %s is err: %v", path, err)
	}
	pb := Playbook{}
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, &SchemaError{PlaybookID: filepath.Base(path), Reason: fmt.Sprintf("unmarshal yaml is err: %v", err)}
	}
	return &pb, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
