// Command apiflow runs HTTP request flows from files or over HTTP.
package main

import "github.com/devicelab-dev/apiflow/pkg/cli"

// version is set at build time via ldflags.
var version = "dev"

func main() {
	cli.Version = version
	cli.Execute()
}
