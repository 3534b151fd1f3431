package main

import (
	"os"

	flags "github.com/jessevdk/go-flags"
)

// options are the flags shared by every command.
type options struct {
	ConfigFile string `short:"c" long:"config" description:"Path to a YAML config file; environment variables override it"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"serve", "Run the HTTP server", "Run the HTTP API, websocket hub and quiz sweeper until SIGINT or SIGTERM.", &serveCommand{opts: &opts}},
		{"migrate", "Run database migrations", "Apply (up), roll back (down) or report (status) the embedded migrations.", &migrateCommand{opts: &opts}},
		{"admin", "Grant or revoke admin rights", "Mark the user with the given email as an administrator.", &adminCommand{opts: &opts}},
	}
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(err)
		}
	}

	if _, err := parser.Parse(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
