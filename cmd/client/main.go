package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	clientapi "github.com/fieldops/worksync/internal/client/api"
	"github.com/fieldops/worksync/internal/client/outbox"
	"github.com/fieldops/worksync/internal/sync"
	"github.com/fieldops/worksync/pkg/api"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

const drainTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "enqueue":
		err = cmdEnqueue(os.Args[2:])
	case "drain":
		err = cmdDrain(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "version":
		printVersion()
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Worksync field client

Usage:
  client enqueue -order ID -project ID [-status S | -progress N]   queue a mutation locally
  client drain -server URL -token T                                send queued mutations
  client status                                                    list queued mutations
  client version                                                   show version`)
}

func openOutbox(path string) (*outbox.Outbox, error) {
	return outbox.New(context.Background(), path)
}

func defaultOutboxPath() string {
	if p := os.Getenv("WORKSYNC_OUTBOX_PATH"); p != "" {
		return p
	}
	return "worksync-outbox.db"
}

func cmdEnqueue(args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	dbPath := fs.String("db", defaultOutboxPath(), "Outbox database path")
	orderID := fs.String("order", "", "Work order ID")
	projectID := fs.String("project", "", "Project ID")
	status := fs.String("status", "", "New status value")
	progress := fs.Float64("progress", -1, "New progress percentage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *orderID == "" || *projectID == "" {
		return errors.New("both -order and -project are required")
	}

	now := time.Now().UnixMilli()
	m := api.Mutation{
		OrderID:         *orderID,
		ProjectID:       *projectID,
		ClientTimestamp: now,
	}

	switch {
	case *status != "" && *progress >= 0:
		return errors.New("set either -status or -progress, not both")
	case *status != "":
		m.Kind = api.KindStatus
		m.Status = &api.StatusPatch{Status: *status, LastModified: now}
	case *progress >= 0:
		m.Kind = api.KindProgress
		m.Progress = &api.ProgressPatch{Percentage: *progress, Timestamp: now}
	default:
		return errors.New("one of -status or -progress is required")
	}

	ob, err := openOutbox(*dbPath)
	if err != nil {
		return err
	}
	defer ob.Close()

	if err := ob.Enqueue(context.Background(), m); err != nil {
		return err
	}

	fmt.Printf("queued %s mutation for order %s\n", m.Kind, m.OrderID)
	return nil
}

func cmdDrain(args []string) error {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	dbPath := fs.String("db", defaultOutboxPath(), "Outbox database path")
	serverURL := fs.String("server", "http://localhost:8080", "Server base URL")
	token := fs.String("token", os.Getenv("WORKSYNC_TOKEN"), "Bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *token == "" {
		return errors.New("a token is required (-token or WORKSYNC_TOKEN)")
	}

	ob, err := openOutbox(*dbPath)
	if err != nil {
		return err
	}
	defer ob.Close()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	c := clientapi.NewClient(*serverURL, *token)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	sent := 0
	for {
		entry, err := ob.Peek(ctx)
		if errors.Is(err, outbox.ErrEmpty) {
			break
		}
		if err != nil {
			return err
		}

		if err := c.SendMutation(ctx, entry.Mutation); err != nil {
			return fmt.Errorf("send failed after %d mutations: %w", sent, err)
		}

		// The server answers every mutation with either the authoritative
		// update or an error frame; either way this entry is settled.
		reply, err := c.Read(ctx)
		if err != nil {
			return fmt.Errorf("no reply after %d mutations: %w", sent, err)
		}
		if reply.Type == api.MessageError {
			fmt.Fprintf(os.Stderr, "order %s rejected: %s\n", entry.Mutation.OrderID, reply.Err)
		}

		if err := ob.Ack(ctx, entry.Seq); err != nil {
			return err
		}
		sent++
	}

	fmt.Printf("drained %d mutations\n", sent)
	return nil
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", defaultOutboxPath(), "Outbox database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ob, err := openOutbox(*dbPath)
	if err != nil {
		return err
	}
	defer ob.Close()

	entries, err := ob.Pending(context.Background())
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("outbox is empty")
		return nil
	}

	for _, e := range entries {
		m := e.Mutation
		switch m.Kind {
		case api.KindStatus:
			fmt.Printf("%6d  %s  %s -> status %s (room %s)\n",
				e.Seq, m.OrderID, m.Kind, m.Status.Status, sync.ProjectRoom(m.ProjectID))
		case api.KindProgress:
			fmt.Printf("%6d  %s  %s -> %.1f%% (room %s)\n",
				e.Seq, m.OrderID, m.Kind, m.Progress.Percentage, sync.ProjectRoom(m.ProjectID))
		default:
			fmt.Printf("%6d  %s  %s\n", e.Seq, m.OrderID, m.Kind)
		}
	}
	return nil
}

func printVersion() {
	fmt.Printf("Worksync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
