package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/moby/term"
	"github.com/ryanmoran/stevedore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("stevedore", flag.ContinueOnError)
	host := fs.String("host", "", "engine endpoint (defaults to DOCKER_HOST)")
	certPath := fs.String("cert-path", "", "directory containing ca.pem, cert.pem, and key.pem")
	timeout := fs.Duration("timeout", stevedore.DefaultReadTimeout, "read timeout for engine responses")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Arg(0)
	if command == "" {
		return fmt.Errorf("usage: stevedore [flags] <ping|version|info|ps|images|pull|logs|wait|stop> [args]")
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if *verbose {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	// Cancel the context on signals so blocked calls unwind promptly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cleanup := NewCleanupManager(logger)
	defer cleanup.Execute()

	options := []stevedore.Option{
		stevedore.WithReadTimeout(*timeout),
		stevedore.WithLogger(logger),
	}
	if *certPath != "" {
		options = append(options, stevedore.WithCertPath(*certPath))
	}

	var (
		client *stevedore.Client
		err    error
	)
	if *host != "" {
		client, err = stevedore.New(*host, options...)
	} else {
		client, err = stevedore.NewFromEnv(options...)
	}
	if err != nil {
		return fmt.Errorf("failed to create client: %w\nMake sure the engine is running and DOCKER_HOST is set correctly", err)
	}
	cleanup.Add("client", func() error {
		client.Close()
		return nil
	})

	_, stdout, stderr := term.StdStreams()

	switch command {
	case "ping":
		reply, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, reply)

	case "version":
		version, err := client.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "engine %s (api %s, go %s)\n", version.Version, version.APIVersion, version.GoVersion)

	case "info":
		info, err := client.Info(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %d containers, %d images\n", info.Name, info.Containers, info.Images)

	case "ps":
		containers, err := client.ListContainers(ctx, stevedore.AllContainers())
		if err != nil {
			return err
		}
		for _, item := range containers {
			fmt.Fprintf(stdout, "%.12s  %s  %s\n", item.ID, item.Image, item.Status)
		}

	case "images":
		images, err := client.ListImages(ctx)
		if err != nil {
			return err
		}
		for _, item := range images {
			fmt.Fprintf(stdout, "%.12s  %v\n", item.ID, item.RepoTags)
		}

	case "pull":
		ref := fs.Arg(1)
		if ref == "" {
			return fmt.Errorf("usage: stevedore pull <image>")
		}
		if err := client.Pull(ctx, ref, stevedore.NewWriterProgressHandler(stdout)); err != nil {
			return fmt.Errorf("failed to pull %q: %w", ref, err)
		}

	case "logs":
		containerID := fs.Arg(1)
		if containerID == "" {
			return fmt.Errorf("usage: stevedore logs <container>")
		}
		logs, err := client.Logs(ctx, containerID, stevedore.LogsStdout(), stevedore.LogsStderr())
		if err != nil {
			return err
		}
		cleanup.Add("log-stream", logs.Close)
		if err := logs.Attach(stdout, stderr); err != nil {
			return fmt.Errorf("failed to stream logs for %q: %w", containerID, err)
		}

	case "wait":
		containerID := fs.Arg(1)
		if containerID == "" {
			return fmt.Errorf("usage: stevedore wait <container>")
		}
		exit, err := client.WaitContainer(ctx, containerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exit status %d\n", exit.StatusCode)

	case "stop":
		containerID := fs.Arg(1)
		if containerID == "" {
			return fmt.Errorf("usage: stevedore stop <container>")
		}
		if err := client.StopContainer(ctx, containerID, 10*time.Second); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown command %q", command)
	}

	return nil
}
