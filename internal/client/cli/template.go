package cli

import "text/template"

const usageTemplate = `Causaltree Client

Usage:
  causaltree [OPTIONS] COMMAND [ARGS]

Options:
  --version      Show version information
  --server URL   Server URL (default: http://localhost:8080)
  --db PATH      Path to local replica database (default: causaltree-client.db)

Commands:
  login [TOKEN]                      Save device token (prompted if omitted)
  logout                             Forget device token
  status                             Show token and local replicas
  channels                           List channels visible on the server
  sync [TYPE/ID]                     Synchronize one channel or all local replicas
  append lwwmap/ID KEY VALUE         Set a key
  append list/ID VALUE [INDEX]       Insert a value (at the end by default)
  delete lwwmap/ID KEY               Delete a key
  delete list/ID INDEX               Delete an element
  state TYPE/ID [--remote]           Show projected state
  log TYPE/ID                        Show atoms in weave order
  watch TYPE/ID                      Follow live changes of a channel

Values are parsed as JSON; anything else is stored as a string.

Examples:
  causaltree login
  causaltree sync list/shopping
  causaltree append list/shopping milk
  causaltree append lwwmap/settings theme '"dark"'
  causaltree --server https://example.com watch list/shopping
`

const statusTemplate = `=== Status ===

Server: {{.Server}}
{{- if .Auth}}
Device: {{if .Auth.DeviceID}}{{.Auth.DeviceID}}{{else}}unknown{{end}}
{{- if .Auth.ExpiresAt}}
Token expires: {{expires .Auth.ExpiresAt}}
{{- end}}
{{- else}}
Status: Not authenticated
{{- end}}
Site: {{if .Site}}{{.Site}}{{else}}not assigned{{end}}
{{if .Channels}}
Local replicas:
{{- range .Channels}}
  {{.Info}}  atoms: {{.Atoms}}  pending: {{.Pending}}  last sync: {{if .LastSync.IsZero}}never{{else}}{{.LastSync.Format "2006-01-02 15:04:05"}}{{end}}
{{- end}}
{{else}}
No local replicas.
{{end}}`

const stateTemplate = `=== {{.Channel}} ===
{{- if .Source}} ({{.Source}}){{end}}

Atoms:       {{.Atoms}}
Fingerprint: {{.Fingerprint}}

{{.State}}
`

var (
	statusView = template.Must(template.New("status").Funcs(template.FuncMap{"expires": formatUnix}).Parse(statusTemplate))
	stateView  = template.Must(template.New("state").Parse(stateTemplate))
)
