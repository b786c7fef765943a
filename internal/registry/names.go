// Package registry resolves the logical cache names (shell, static, api)
// of one deployed version and decides which persisted partitions are stale.
package registry

import (
	"fmt"
	"strings"

	"github.com/any-hub/shell-cache/internal/config"
)

// Role 标识三类逻辑缓存。
type Role string

const (
	RoleShell  Role = "shell"
	RoleStatic Role = "static"
	RoleAPI    Role = "api"
)

// Roles 按固定顺序返回全部角色。
func Roles() []Role {
	return []Role{RoleShell, RoleStatic, RoleAPI}
}

// Names 是某个部署版本的缓存名称集合，构建后不可变，下次部署时整体替换。
type Names struct {
	Namespace string
	Shell     string
	Static    string
	API       string
}

// New 以 namespace + 版本后缀拼出三个缓存名称。
func New(namespace, shell, static, api string) (Names, error) {
	names := Names{
		Namespace: namespace,
		Shell:     namespace + shell,
		Static:    namespace + static,
		API:       namespace + api,
	}
	seen := make(map[string]Role, 3)
	for _, role := range Roles() {
		name := names.For(role)
		if name == namespace || strings.TrimSpace(name) == "" {
			return Names{}, fmt.Errorf("%s cache version is required", role)
		}
		if prev, ok := seen[name]; ok {
			return Names{}, fmt.Errorf("%s cache name %q duplicates %s", role, name, prev)
		}
		seen[name] = role
	}
	return names, nil
}

// FromConfig 根据 [Worker] 配置构建名称集合。
func FromConfig(cfg config.WorkerConfig) (Names, error) {
	return New(cfg.Namespace, cfg.ShellVersion, cfg.StaticVersion, cfg.APIVersion)
}

// For 返回角色对应的缓存名称，未知角色返回空字符串。
func (n Names) For(role Role) string {
	switch role {
	case RoleShell:
		return n.Shell
	case RoleStatic:
		return n.Static
	case RoleAPI:
		return n.API
	default:
		return ""
	}
}

// Set 返回当前版本集合（Version Set）。
func (n Names) Set() []string {
	return []string{n.Shell, n.Static, n.API}
}

// Contains 判断名称是否属于当前版本集合。
func (n Names) Contains(name string) bool {
	return name == n.Shell || name == n.Static || name == n.API
}

// Owns 判断名称是否带有本应用的命名空间前缀；空命名空间视为拥有全部名称。
func (n Names) Owns(name string) bool {
	return strings.HasPrefix(name, n.Namespace)
}

// Stale 返回 persisted 中属于本命名空间但不在当前版本集合内的名称，保持原有顺序。
func (n Names) Stale(persisted []string) []string {
	var stale []string
	for _, name := range persisted {
		if n.Owns(name) && !n.Contains(name) {
			stale = append(stale, name)
		}
	}
	return stale
}
