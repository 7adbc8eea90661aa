package configstore

// knownServers is the known-good template table Repair draws on when a
// required entry is missing from the document.
var knownServers = map[string]ServerEntry{
	"github": {
		Command:     []string{"npx", "-y", "@modelcontextprotocol/server-github"},
		AutoRestart: true,
	},
	"filesystem": {
		Command:     []string{"npx", "-y", "@modelcontextprotocol/server-filesystem"},
		AutoRestart: true,
	},
	"memory": {
		Command:     []string{"npx", "-y", "@modelcontextprotocol/server-memory"},
		AutoRestart: true,
	},
	"redis": {
		Command:     []string{"npx", "-y", "@modelcontextprotocol/server-redis", "redis://localhost:6379"},
		AutoRestart: true,
	},
	"time": {
		Command:     []string{"uvx", "mcp-server-time"},
		AutoRestart: true,
	},
	"fetch": {
		Command:     []string{"uvx", "mcp-server-fetch"},
		AutoRestart: true,
	},
	"sqlite": {
		Command:     []string{"uvx", "mcp-server-sqlite"},
		AutoRestart: true,
	},
}

// TemplateFor returns the known-good entry for name. Unknown names get a
// generic npx invocation so Repair always produces a syntactically valid
// entry.
func TemplateFor(name string) ServerEntry {
	if entry, ok := knownServers[name]; ok {
		return entry
	}
	return ServerEntry{
		Command:     []string{"npx", "-y", "@modelcontextprotocol/server-" + name},
		AutoRestart: true,
	}
}
