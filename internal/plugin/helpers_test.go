package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writePlugin creates a plugin directory under base with a manifest file
// (plugin.json or plugin.yaml) and an init.lua.
func writePlugin(t *testing.T, base, dir, manifestName, manifest, code string) string {
	t.Helper()
	path := filepath.Join(base, dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, manifestName), []byte(manifest), 0o644))
	if code != "" {
		require.NoError(t, os.WriteFile(filepath.Join(path, "init.lua"), []byte(code), 0o644))
	}
	return path
}

const markdownManifest = `{
	"id": "hookwire-plugin-markdown",
	"name": "Markdown",
	"version": "1.2.0",
	"description": "Markdown parsing",
	"hooks": [
		{ "hook": "filter:parse.post", "method": "parsePost" },
		{ "hook": "static:app.load", "method": "init" },
		{ "hook": "action:post.save", "method": "onSave" }
	],
	"settings": { "suffix": "!" }
}`

const markdownLua = `
suffix = "?"
loads = 0
saves = 0

function activate(settings)
	suffix = settings.suffix
end

function parsePost(data)
	data.content = "<p>" .. data.content .. "</p>" .. suffix
	return data
end

function init(data)
	loads = loads + 1
end

function onSave(data)
	if data.pid == nil then
		error("missing pid")
	end
	saves = saves + 1
end

function deactivate()
	deactivated = true
end
`

const auditManifest = `
id: "@acme/hookwire-plugin-audit"
version: 0.1.0
hooks:
  - hook: filter:parse.post
    method: tag
`

const auditLua = `
function tag(data)
	data.audited = true
	return data
end
`
