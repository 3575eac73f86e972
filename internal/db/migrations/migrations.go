// Package migrations embeds the goose SQL migration set for the login
// core's persisted state (§6): users, realms, ip_bans, patches.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
