// Demo client: opens one pad against a running padsync server, mirrors lines
// typed on stdin into the document, and prints remote updates and presence
// changes as they arrive.
//
//	go run ./demo -server http://localhost:8080 -pad scratch
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"padsync/client"
	"padsync/engine"
	"padsync/feed"
	"padsync/pkg/logger"
	"padsync/presence"
	"padsync/session"
	"padsync/store"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "padsync server base URL")
	padID := flag.String("pad", "scratch", "pad to open")
	subpad := flag.String("subpad", "", "subpad to open instead of the root pad")
	password := flag.String("password", "", "password for a protected pad")
	flag.Parse()

	logger.Init()

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Sugar.Fatalf("resolve home dir: %v", err)
	}
	sessions := session.NewManager(filepath.Join(home, ".padsync"))
	sessionID, err := sessions.Get()
	if err != nil {
		logger.Sugar.Fatalf("session identity: %v", err)
	}
	fmt.Printf("session %s\n", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docs := client.New(*server, sessionID)
	key := store.DocKey{Pad: *padID, Subpad: *subpad}

	eng := engine.New(docs, key, sessionID, engine.Options{
		OnReplaced: func(doc store.Doc) {
			fmt.Printf("\n--- remote update ---\n%s\n", doc.Content)
		},
		OnHeld: func() {
			fmt.Println("pad is protected; rerun with -password to write")
		},
		OnError: func(err error) {
			fmt.Printf("save failed, retrying: %v\n", err)
		},
	})
	if err := eng.Open(ctx); err != nil {
		logger.Sugar.Fatalf("open %s: %v", key, err)
	}
	defer eng.Close()
	fmt.Printf("opened %s (%d bytes)\n", key, len(eng.Doc().Content))

	if *password != "" {
		if _, err := docs.Unlock(ctx, *padID, *password); err != nil {
			logger.Sugar.Fatalf("unlock %s: %v", *padID, err)
		}
		eng.Unlock()
	}

	wsEndpoint := strings.Replace(*server, "http", "ws", 1) + "/ws"
	f := feed.Dial(wsEndpoint, *padID, sessionID)
	defer f.Close()
	f.Status().Subscribe(func(connected bool) {
		if connected {
			fmt.Println("feed connected")
		} else {
			fmt.Println("feed disconnected, reconnecting")
		}
	})

	tracker := presence.NewTracker(docs, *padID, sessionID, presence.Options{})
	tracker.Start(ctx)
	defer tracker.StopReconcile()
	defer tracker.Retract(context.Background())
	tracker.Cursors().Subscribe(func(cursors []store.Cursor) {
		names := make([]string, 0, len(cursors))
		for _, c := range cursors {
			names = append(names, fmt.Sprintf("%s@%d", c.UserName, c.Position))
		}
		fmt.Printf("here now: [%s]\n", strings.Join(names, " "))
	})

	sub := f.Subscribe(nil)
	defer f.Unsubscribe(sub)
	go func() {
		for ev := range sub.C {
			switch ev.Kind {
			case store.EventDocUpdated:
				eng.ApplyRemote(ev)
			case store.EventCursorUpserted, store.EventCursorDeleted:
				tracker.HandleEvent(ev)
			}
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
		os.Exit(0)
	}()

	// Each stdin line replaces the document body and moves the cursor to its
	// end; the engine debounces the actual commits.
	fmt.Println("type to edit, ctrl-c to quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		eng.SetContent(line)
		if err := tracker.Publish(ctx, len(line)); err != nil {
			logger.Sugar.Warnf("publish cursor: %v", err)
		}
	}
}
