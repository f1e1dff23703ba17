package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kong/kaictl/internal/build"
	"github.com/kong/kaictl/internal/cmd/root"
	"github.com/kong/kaictl/internal/iostreams"
)

var (
	// version, commit and date may be overridden by the linker. See .goreleaser.yml
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func run() int {
	// the first interrupt detaches from the session, a second one kills
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return root.Execute(ctx, iostreams.GetOSIOStreams(), &build.Info{
		Version: version,
		Commit:  commit,
		Date:    date,
	})
}

func main() {
	os.Exit(run())
}
