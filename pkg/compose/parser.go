// Package compose discovers backend MCP servers from a Docker Compose
// file's services mapping, deriving each backend's name and base URL
// from its host-port binding (spec §4.A). It never starts, stops, or
// otherwise talks to Docker; it only reads the document.
package compose

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/saxyguy81/mcp-hub/pkg/mcphub"
)

// ProxyServiceLabel is the compose label that marks the proxy's own
// service entry so discovery skips it; a service describing itself
// would otherwise register as a backend of itself.
const ProxyServiceLabel = "mcp-hub.service"

// ProxyServiceLabelValue is the label value discovery skips.
const ProxyServiceLabelValue = "proxy"

// Discovered is one backend candidate found in a compose file, before
// it has ever been probed.
type Discovered struct {
	Name    string
	BaseURL string
	Labels  map[string]string
}

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Ports  []portBinding `yaml:"ports"`
	Labels composeLabels `yaml:"labels"`
}

// portBinding accepts both compose port syntaxes: the short string form
// ("9001:8080") and the long mapping form ({published: 9001, target: 8080}).
type portBinding struct {
	short     string
	Published int `yaml:"published"`
}

func (p *portBinding) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		p.short = value.Value
		return nil
	}
	type long struct {
		Published int `yaml:"published"`
		Target    int `yaml:"target"`
	}
	var l long
	if err := value.Decode(&l); err != nil {
		return fmt.Errorf("compose: decode port mapping: %w", err)
	}
	p.Published = l.Published
	return nil
}

func (p portBinding) hostPort() (string, bool) {
	if p.Published != 0 {
		return strconv.Itoa(p.Published), true
	}
	if p.short == "" || !strings.Contains(p.short, ":") {
		return "", false
	}
	return strings.SplitN(p.short, ":", 2)[0], true
}

// composeLabels accepts both the list form (["k=v", ...]) and the map
// form ({k: v}) that compose allows for service labels.
type composeLabels map[string]string

func (l *composeLabels) UnmarshalYAML(value *yaml.Node) error {
	out := make(map[string]string)
	switch value.Kind {
	case yaml.MappingNode:
		if err := value.Decode((*map[string]string)(&out)); err != nil {
			return fmt.Errorf("compose: decode label map: %w", err)
		}
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return fmt.Errorf("compose: decode label list: %w", err)
		}
		for _, item := range items {
			k, v, ok := strings.Cut(item, "=")
			if !ok {
				continue
			}
			out[k] = v
		}
	}
	*l = out
	return nil
}

// DiscoverFile reads a compose file from disk and returns every
// discovered backend, as Discover does. The order of the returned
// backends is not defined.
func DiscoverFile(path string) ([]Discovered, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read compose file %s: %v", mcphub.ErrInvalidConfig, path, err)
	}
	return Discover(data)
}

// Discover parses compose document bytes and returns every discovered
// backend. Each service's first port mapping with a host-side binding
// wins; additional published ports on the same service are ignored, and
// services that publish no ports are skipped entirely, matching the
// original implementation this is grounded on.
func Discover(data []byte) ([]Discovered, error) {
	var doc composeFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse compose document: %v", mcphub.ErrInvalidConfig, err)
	}

	out := make([]Discovered, 0, len(doc.Services))
	for name, svc := range doc.Services {
		if svc.Labels[ProxyServiceLabel] == ProxyServiceLabelValue {
			continue
		}
		for _, p := range svc.Ports {
			hostPort, ok := p.hostPort()
			if !ok {
				continue
			}
			out = append(out, Discovered{
				Name:    name,
				BaseURL: fmt.Sprintf("http://localhost:%s", hostPort),
				Labels:  svc.Labels,
			})
			break
		}
	}
	return out, nil
}

// Sync reconciles discovery results into the registry: every discovered
// backend is upserted, and any previously-registered backend absent from
// this discovery pass is removed. It returns the names added, updated
// (address changed), and removed, for the caller to log or act on (e.g.
// trigger an immediate re-probe of changed backends).
func Sync(reg *mcphub.Registry, discovered []Discovered) (added, changed, removed []string) {
	seen := make(map[string]bool, len(discovered))
	for _, d := range discovered {
		seen[d.Name] = true
		before, existed := reg.Get(d.Name)
		addrChanged := reg.Upsert(d.Name, d.BaseURL, d.Labels)
		switch {
		case !existed:
			added = append(added, d.Name)
		case addrChanged && before.BaseURL != "":
			changed = append(changed, d.Name)
		}
	}

	for _, snap := range reg.Snapshot() {
		if snap.State == mcphub.StateRemoved {
			continue
		}
		if !seen[snap.Name] {
			if _, found := reg.Remove(snap.Name); found {
				removed = append(removed, snap.Name)
			}
		}
	}
	return added, changed, removed
}
