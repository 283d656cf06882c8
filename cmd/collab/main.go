// Command collab is a headless collaboration client: it joins a room on the
// relay, prints presence, chat and document activity, and sends chat lines
// read from stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/docsync/config"
	"github.com/cwrk-planet/docsync/internal/docstore"
	"github.com/cwrk-planet/docsync/internal/document"
	"github.com/cwrk-planet/docsync/internal/domain"
	"github.com/cwrk-planet/docsync/internal/session"
	"github.com/cwrk-planet/docsync/pkg/logger"
)

func main() {
	var (
		cfgPath = flag.String("config", "config/collab.yaml", "client config file")
		room    = flag.String("room", "", "room (document) id")
		name    = flag.String("name", "", "display name")
		store   = flag.String("store", "", "document store: http|sqlite")
	)
	flag.Parse()

	cfg, err := config.LoadClient(*cfgPath)
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}
	if *room != "" {
		cfg.RoomID = *room
	}
	if *name != "" {
		cfg.DisplayName = *name
	}
	if *store != "" {
		cfg.Store = *store
	}
	if err := cfg.Validate(); err != nil {
		println("invalid config:", err.Error())
		os.Exit(1)
	}
	if cfg.RoomID == "" {
		println("room is required (-room or roomId)")
		os.Exit(2)
	}

	// logs go to stderr; stdout is the session transcript
	lc := cfg.Logging.Logger()
	lc.Output = os.Stderr
	log := logger.Init(lc)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open document store", logger.Err(err))
		os.Exit(1)
	}
	defer closeStore()

	var header http.Header
	if cfg.Credential != "" {
		header = http.Header{"token": []string{cfg.Credential}}
	}

	scfg := session.DefaultConfig()
	scfg.RoomID = domain.RoomID(cfg.RoomID)
	scfg.DisplayName = cfg.DisplayName
	scfg.ReconnectAttempts = cfg.ReconnectAttempts
	scfg.ReconnectDelay = cfg.ReconnectDelay
	scfg.ReconnectMaxDelay = cfg.ReconnectMaxDelay
	scfg.ConnectTimeout = cfg.ConnectTimeout
	scfg.SyncTimeout = *cfg.SyncTimeout
	scfg.DedupWindow = cfg.DedupWindow

	doc := document.NewSnapshot(uuid.NewString())
	sess := session.New(scfg, doc, st, session.NewWSDialer(cfg.RelayURL, header), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events, unsub := sess.Subscribe()
	defer unsub()

	if err := sess.Start(ctx); err != nil {
		log.Error("failed to start session", logger.Err(err))
		os.Exit(1)
	}

	go printEvents(events, sess)
	go readInput(ctx, sess, doc, stop)

	select {
	case <-ctx.Done():
		if err := sess.Leave(); err != nil {
			log.Warn("leave", logger.Err(err))
		}
	case <-sess.Done():
	}
	log.Info("session closed", slog.String("room", cfg.RoomID))
}

func openStore(cfg *config.Client) (docstore.Store, func(), error) {
	if cfg.Store == "sqlite" {
		s, err := docstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return docstore.NewHTTPStore(cfg.DocumentURL, cfg.Credential, cfg.ConnectTimeout), func() {}, nil
}

func printEvents(events <-chan session.Event, sess *session.Session) {
	for ev := range events {
		switch ev.Kind {
		case session.EventState:
			if ev.Err != nil {
				fmt.Printf("* %s: %s (attempt %d): %v\n", ev.Channel, ev.State, ev.Attempt, ev.Err)
			} else {
				fmt.Printf("* %s: %s\n", ev.Channel, ev.State)
			}
		case session.EventPresence:
			names := make([]string, 0, len(ev.Members))
			for _, m := range ev.Members {
				names = append(names, m.DisplayName)
			}
			fmt.Printf("* in room: %s\n", strings.Join(names, ", "))
		case session.EventChat:
			fmt.Printf("[%s] %s: %s\n", ev.Message.Timestamp.Format(time.Kitchen), ev.Message.AuthorDisplayName, ev.Message.Text)
		case session.EventDocument:
			fmt.Printf("* document %q changed\n", sess.Title())
		case session.EventSynced:
			fmt.Println("* document synced")
		case session.EventReconciled:
			if ev.Injected {
				fmt.Println("* loaded persisted content")
			}
		case session.EventError:
			fmt.Printf("! %v\n", ev.Err)
		}
	}
}

func readInput(ctx context.Context, sess *session.Session, doc *document.Snapshot, quit func()) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/quit":
			quit()
			return
		case "/save":
			saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = sess.Save(saveCtx)
			cancel()
		case "/retry":
			err = sess.Retry()
		case "/edit":
			err = sess.SendUpdate(doc.Edit(arg))
		case "/show":
			fmt.Println(doc.Content())
		case "/who":
			for _, m := range sess.Members() {
				fmt.Printf("  %s (%s)\n", m.DisplayName, m.ConnectionID)
			}
		default:
			_, err = sess.SendChat(line)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	quit()
}
