// Package catalog 加载内置组件目录，并把安装预设解析为有序的组件列表。
package catalog

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/apk-analysis/toolsetup/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog 只读组件目录
type Catalog struct {
	components map[string]*domain.Component
	order      []string
	profiles   map[domain.InstallProfile][]string
}

// Overrides 在预设基础上追加或排除组件
type Overrides struct {
	Include []string
	Exclude []string
}

type document struct {
	Components []*domain.Component `yaml:"components"`
	Profiles   map[string][]string `yaml:"profiles"`
}

// Default 加载内置目录
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse 解析并校验目录文档
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		components: make(map[string]*domain.Component, len(doc.Components)),
		profiles:   make(map[domain.InstallProfile][]string, len(doc.Profiles)),
	}

	for _, comp := range doc.Components {
		if err := validateComponent(comp); err != nil {
			return nil, err
		}
		if _, dup := c.components[comp.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate component %q", comp.ID)
		}
		c.components[comp.ID] = comp
		c.order = append(c.order, comp.ID)
	}

	for _, comp := range doc.Components {
		if !comp.IsPaired() {
			continue
		}
		client, ok := c.components[comp.PairedWith]
		if !ok {
			return nil, fmt.Errorf("catalog: %s is paired with unknown component %q", comp.ID, comp.PairedWith)
		}
		if client.IsPaired() {
			return nil, fmt.Errorf("catalog: %s cannot pair with another paired component %s", comp.ID, client.ID)
		}
	}

	for name, ids := range doc.Profiles {
		for _, id := range ids {
			if _, ok := c.components[id]; !ok {
				return nil, fmt.Errorf("catalog: profile %s references unknown component %q", name, id)
			}
		}
		c.profiles[domain.InstallProfile(name)] = ids
	}

	return c, nil
}

func validateComponent(comp *domain.Component) error {
	if comp.ID == "" {
		return fmt.Errorf("catalog: component without id")
	}
	switch comp.Kind {
	case domain.KindPythonPackage, domain.KindPlatformBinary, domain.KindArchiveTool, domain.KindPairedTool:
	case domain.KindGitTool:
		if comp.Source.Type != domain.SourceGit || comp.Source.URL == "" {
			return fmt.Errorf("catalog: git tool %s needs a git source with url", comp.ID)
		}
	default:
		return fmt.Errorf("catalog: %s has unknown kind %q", comp.ID, comp.Kind)
	}
	if comp.Kind.IsBinary() && comp.TargetDir == "" {
		return fmt.Errorf("catalog: %s needs a target_dir", comp.ID)
	}
	if comp.Kind == domain.KindPairedTool && comp.PairedWith == "" {
		return fmt.Errorf("catalog: %s is a paired tool without paired_with", comp.ID)
	}
	if p := comp.Source.AssetPattern; p != "" {
		expanded := strings.NewReplacer("{{version}}", "1.0.0", "{{os}}", "os", "{{arch}}", "arch").Replace(p)
		if _, err := regexp.Compile(expanded); err != nil {
			return fmt.Errorf("catalog: %s asset_pattern: %w", comp.ID, err)
		}
	}
	if p := comp.Probe.Pattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("catalog: %s probe pattern: %w", comp.ID, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("catalog: %s probe pattern needs a capture group", comp.ID)
		}
	}
	return nil
}

// Profiles 所有预设名，按字母序
func (c *Catalog) Profiles() []domain.InstallProfile {
	names := make([]domain.InstallProfile, 0, len(c.profiles))
	for name := range c.profiles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// ProfileComponents 预设包含的组件 ID
func (c *Catalog) ProfileComponents(profile domain.InstallProfile) ([]string, bool) {
	ids, ok := c.profiles[profile]
	return append([]string(nil), ids...), ok
}

func (c *Catalog) Component(id string) (*domain.Component, bool) {
	comp, ok := c.components[id]
	return comp, ok
}

// Components 目录中的全部组件，保持文件中的顺序
func (c *Catalog) Components() []*domain.Component {
	out := make([]*domain.Component, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.components[id])
	}
	return out
}

// Resolve 将预设与覆盖项解析为去重、有序的组件列表
// 顺序为预设顺序再接追加项；成对工具的服务端总是排在其客户端之后，
// 只追加了服务端时自动带上客户端，显式排除客户端则报配置错误。
func (c *Catalog) Resolve(profile domain.InstallProfile, o Overrides) ([]*domain.Component, error) {
	base, ok := c.profiles[profile]
	if !ok {
		return nil, &domain.ConfigurationError{
			Field:  "profile",
			Value:  string(profile),
			Reason: "unknown install profile",
		}
	}

	for _, id := range append(append([]string(nil), o.Include...), o.Exclude...) {
		if _, ok := c.components[id]; !ok {
			return nil, &domain.ConfigurationError{Field: "override", Value: id, Reason: "unknown component"}
		}
	}

	excluded := make(map[string]bool, len(o.Exclude))
	for _, id := range o.Exclude {
		excluded[id] = true
	}

	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if seen[id] || excluded[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range base {
		add(id)
	}
	for _, id := range o.Include {
		add(id)
	}

	// 补齐客户端并保证服务端排在客户端之后
	ordered := make([]string, 0, len(ids))
	placed := make(map[string]bool, len(ids))
	for _, id := range ids {
		if placed[id] {
			continue
		}
		comp := c.components[id]
		if comp.IsPaired() {
			client := comp.PairedWith
			if excluded[client] {
				return nil, &domain.ConfigurationError{
					Field:  "exclude",
					Value:  client,
					Reason: "required by paired component " + comp.ID,
				}
			}
			if !placed[client] {
				ordered = append(ordered, client)
				placed[client] = true
			}
		}
		ordered = append(ordered, id)
		placed[id] = true
	}

	out := make([]*domain.Component, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, c.components[id])
	}
	return out, nil
}

// Server 返回以 client 为客户端的成对服务端组件
func (c *Catalog) Server(clientID string) (*domain.Component, bool) {
	for _, id := range c.order {
		if comp := c.components[id]; comp.PairedWith == clientID {
			return comp, true
		}
	}
	return nil, false
}
