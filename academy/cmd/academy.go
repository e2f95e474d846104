// Command-line interface for the academy backend
package main

import (
	"academy/academy/config"
	"academy/academy/controllers"
	"academy/academy/services/chat"
	"academy/academy/services/mailer"
	"academy/academy/services/sequence"
	"academy/academy/sources/psql"
	"academy/academy/sources/psql/dao"
	"academy/academy/sources/storage"
	"academy/academy/types"
	"academy/academy/utils/color"
	"academy/academy/utils/jsonutils"
	"academy/academy/utils/logging"
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func usage() {
	fmt.Println("Academy CLI usage:")
	fmt.Println("  academy chat [-url URL] [-token TOKEN] [-mode MODE]   # Chat with the assistant")
	fmt.Println("  academy token -email EMAIL                           # Issue an API token")
	fmt.Println("  academy process-sequences                            # Run the drip processor once")
	fmt.Println("  academy reports [-day YYYY/MM/DD]                    # Print archived processor runs")
}

func main() {
	cfg := config.LoadConfig()
	logging.InitLogger(cfg.LogDir)
	defer logging.Sync()

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	var err error
	switch args[0] {
	case "chat":
		err = runChat(cfg, args[1:])
	case "token":
		err = runToken(cfg, args[1:])
	case "process-sequences":
		err = runProcessor(cfg)
	case "reports":
		err = runReports(cfg, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Println(color.ColorError("error: " + err.Error()))
		os.Exit(1)
	}
}

func openDB(cfg config.Config) (*psql.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := psql.NewDatabase(ctx, cfg)
	if err != nil {
		logging.ErrorLogger.Error("database connection error", zap.Error(err))
		return nil, err
	}
	return db, nil
}

func runToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	email := fs.String("email", "", "profile email")
	fs.Parse(args)

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	auth := controllers.NewAuthController(dao.NewProfileDAO(db.DB), cfg)
	token, err := auth.IssueToken(context.Background(), types.TokenRequest{Email: *email})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runProcessor(cfg config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var provider mailer.Provider
	if cfg.SendGridAPIKey != "" {
		provider = mailer.NewSendGrid(cfg.SendGridAPIKey, cfg.EmailFromName, cfg.EmailFromAddress)
	}
	quota := dao.NewQuotaDAO(db.DB, cfg.DefaultEmailLimit, cfg.DefaultAICreditLimit)
	p := sequence.NewProcessor(dao.NewSequenceStore(db.DB), quota, mailer.NewService(dao.NewMailDAO(db.DB), provider))
	if cfg.SequenceBatchSize > 0 {
		p.BatchSize = cfg.SequenceBatchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	res, err := p.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(color.ColorSuccess(jsonutils.ToJSON(res)))
	return nil
}

func runReports(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("reports", flag.ExitOnError)
	day := fs.String("day", "", "UTC day, defaults to today")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	archive, err := storage.NewMinIOClient(ctx, cfg)
	if err != nil {
		return err
	}
	reports, _, err := controllers.NewSequenceController(nil, nil, archive).Reports(ctx, *day)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println(color.ColorWarning("no archived runs"))
		return nil
	}
	for _, r := range reports {
		fmt.Println(color.ColorInfo(r.RunID + " " + r.StartedAt.Format(time.RFC3339)))
		fmt.Println(jsonutils.ToJSON(r))
	}
	return nil
}

func runChat(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	url := fs.String("url", "http://localhost:"+cfg.Port, "server base URL")
	token := fs.String("token", os.Getenv("ACADEMY_TOKEN"), "bearer token")
	mode := fs.String("mode", config.DefaultMode, "chat mode")
	fs.Parse(args)

	notices, err := chat.LoadNotices(cfg.NoticesFile, cfg.NoticesLocale)
	if err != nil {
		return err
	}

	// the server persists the thread; the CLI only keeps the transcript
	session := chat.NewSession(uuid.Nil)
	defer session.Close()

	printed := 0
	conv := chat.NewConversation(chat.Options{
		Transport: &chat.HTTPTransport{
			URL:    strings.TrimRight(*url, "/") + "/chat/stream",
			Token:  *token,
			Client: &http.Client{},
		},
		Session:       session,
		Mode:          *mode,
		FailurePolicy: chat.ApologyMessage,
		MaxRetries:    cfg.StreamMaxRetries,
		Notices:       notices,
		OnUpdate: func(st chat.State) {
			n := len(st.Messages)
			if n == 0 || st.Messages[n-1].Role != chat.RoleAssistant {
				printed = 0
				return
			}
			content := st.Messages[n-1].Content
			if len(content) > printed {
				fmt.Print(color.ColorAssistant(content[printed:]))
				printed = len(content)
			}
		},
		OnNotice: func(n chat.Notice) {
			fmt.Println()
			fmt.Println(color.ColorWarning(n.Message))
		},
	})

	fmt.Println(color.ColorInfo("Connected to " + *url + " in " + *mode + " mode."))
	fmt.Println("Type your message or 'exit' to quit.")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(color.ColorPrompt("you> "))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "exit" || line == "quit" {
			break
		}
		if line == "" {
			continue
		}
		conv.Send(ctx, line)
		fmt.Println()
		if ctx.Err() != nil {
			break
		}
	}
	if id := session.ID(); id != "" {
		fmt.Println(color.ColorInfo("Session: " + id))
	}
	return nil
}
