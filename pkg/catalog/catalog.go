// Package catalog provides read-only introspection over a loaded
// RepoConfig (the `compas.catalog` operation), a bootstrap-pack
// planner for `compas.init`, and single-tool execution for
// `compas.exec`.
//
// Catalog exposes the loaded plugin/tool/gate set read-only without
// mutating loader state.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/AmirTlinov/compas/pkg/config"
	"github.com/AmirTlinov/compas/pkg/procrunner"
)

// ToolEntry is one catalog row describing a tool and its owning
// plugin.
type ToolEntry struct {
	ID            string `json:"id"`
	Description   string `json:"description"`
	Command       string `json:"command"`
	OwnerPluginID string `json:"owner_plugin_id"`
}

// PluginEntry is one catalog row describing a plugin.
type PluginEntry struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ToolPolicy  string   `json:"tool_policy_mode"`
	ToolIDs     []string `json:"tool_ids"`
}

// Catalog is the read-only introspection view of a RepoConfig.
type Catalog struct {
	Plugins []PluginEntry         `json:"plugins"`
	Tools   []ToolEntry           `json:"tools"`
	Gates   map[config.GateKind][]string `json:"gates"`
}

// Build derives Catalog from a loaded RepoConfig, in sorted,
// deterministic order.
func Build(cfg *config.RepoConfig) Catalog {
	pluginIDs := make([]string, 0, len(cfg.Plugins))
	for id := range cfg.Plugins {
		pluginIDs = append(pluginIDs, id)
	}
	sort.Strings(pluginIDs)

	cat := Catalog{Gates: cfg.Gates}
	for _, id := range pluginIDs {
		p := cfg.Plugins[id]
		toolIDs := make([]string, 0, len(p.Tools))
		for _, t := range p.Tools {
			toolIDs = append(toolIDs, t.ID)
		}
		sort.Strings(toolIDs)
		cat.Plugins = append(cat.Plugins, PluginEntry{
			ID: p.ID, Description: p.Description,
			ToolPolicy: string(p.ToolPolicy.Mode), ToolIDs: toolIDs,
		})
	}

	toolIDs := make([]string, 0, len(cfg.Tools))
	for id := range cfg.Tools {
		toolIDs = append(toolIDs, id)
	}
	sort.Strings(toolIDs)
	for _, id := range toolIDs {
		t := cfg.Tools[id]
		cat.Tools = append(cat.Tools, ToolEntry{
			ID: t.ID, Description: t.Description, Command: t.Command, OwnerPluginID: t.OwnerPluginID,
		})
	}

	return cat
}

// Exec runs a single tool by id outside of any gate sequence, for the
// `compas.exec` / `exec <tool_id>` entry point, returning its Receipt.
func Exec(ctx context.Context, cfg *config.RepoConfig, toolID, repoRoot string) (procrunner.Receipt, error) {
	tool, ok := cfg.Tools[toolID]
	if !ok {
		return procrunner.Receipt{}, fmt.Errorf("catalog: unknown tool id %q", toolID)
	}
	return procrunner.Run(ctx, procrunner.Request{
		ToolID:         tool.ID,
		Command:        tool.Command,
		Args:           tool.Args,
		Env:            tool.Env,
		Cwd:            repoRoot,
		TimeoutMs:      tool.TimeoutMs,
		MaxStdoutBytes: tool.MaxStdoutBytes,
		MaxStderrBytes: tool.MaxStderrBytes,
	}), nil
}
