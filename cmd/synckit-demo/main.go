// Command synckit-demo is an example application exercising the synckit
// facade over a single TodoItem entity. Non-core per the spec's component
// table, kept intentionally small; grounded on cmd/td-sync/main.go's
// wiring and cmd/sync_tail.go's status rendering.
package main

import "github.com/marcus/synckit/cmd/synckit-demo/cmd"

func main() {
	cmd.Execute()
}
