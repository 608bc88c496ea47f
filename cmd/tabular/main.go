// Command tabular queries and materializes tables of records held in Redis.
package main

import "github.com/nimburion/tabular/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{Name: "tabular", EnvPrefix: "TABULAR"}))
}
