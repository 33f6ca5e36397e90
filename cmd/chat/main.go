// Aero Chat - terminal chat client
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ashureev/aero-chat/internal/apiclient"
	"github.com/ashureev/aero-chat/internal/config"
	"github.com/ashureev/aero-chat/internal/domain"
	"github.com/ashureev/aero-chat/internal/feedback"
	"github.com/ashureev/aero-chat/internal/transport"
	"github.com/ashureev/aero-chat/internal/widget"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
)

const helpText = `commands:
  /rate <n> <+|-> [comment]   rate section n of the last answer
  /overall <+|-> [comment]    rate the whole last answer
  /export [message-id]        render a report of an answer
  /docs                       list reference documents
  /upload <file.pdf>          add a reference document
  /history                    show the stored conversation
  /ratings                    show the feedback saved this session
  /clear                      clear the stored conversation
  /quit                       exit`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.LoadClient()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	color.NoColor = color.NoColor || cfg.NoColor

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := newTermView(os.Stdout)

	// The widget is created after the API client, which reads the session
	// id back from it.
	var chat *widget.Client
	api := apiclient.New(cfg.ServerURL, func() string {
		if chat == nil {
			return cfg.SessionID
		}
		return chat.Session()
	})

	var sock *transport.Client
	chat = widget.New(widget.Options{
		Transport:   emitter{&sock},
		View:        view,
		Provisioner: api,
		Logger:      logger,
		SessionID:   cfg.SessionID,
	})

	sock = transport.NewClient(cfg.WebSocketURL(), chat.HandleEvent, transport.ClientOptions{
		HeaderFunc: func() http.Header {
			header := http.Header{}
			if sid := chat.Session(); sid != "" {
				header.Set(apiclient.SessionHeaderName, sid)
			}
			return header
		},
		Logger: logger,
	})
	go func() {
		if err := sock.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Socket client stopped", "error", err)
		}
	}()

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()
	loadHistory(line, cfg.History)
	defer saveHistory(line, cfg.History)

	fmt.Println(helpText)

	r := &repl{ctx: ctx, chat: chat, api: api, view: view}
	for ctx.Err() == nil {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl+C, Ctrl+D or a closed terminal.
			fmt.Println()
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if !r.handle(input) {
			break
		}
	}

	stop()
	_ = sock.Close()
	if id := chat.Session(); id != "" {
		fmt.Printf("session: %s\n", id)
	}
}

// emitter defers to the socket client, which is built after the widget.
type emitter struct{ sock **transport.Client }

func (e emitter) Emit(ctx context.Context, event string, payload any) error {
	return (*e.sock).Emit(ctx, event, payload)
}

type repl struct {
	ctx  context.Context
	chat *widget.Client
	api  *apiclient.Client
	view *termView
}

// handle runs one input line. It returns false when the user quits.
func (r *repl) handle(input string) bool {
	if !strings.HasPrefix(input, "/") {
		if _, err := r.chat.SendMessage(r.ctx, input); err != nil {
			r.view.Alert(err.Error())
		}
		return true
	}

	cmd, args, _ := strings.Cut(input, " ")
	args = strings.TrimSpace(args)

	var err error
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Println(helpText)
	case "/rate":
		err = r.rate(args)
	case "/overall":
		err = r.overall(args)
	case "/export":
		err = r.export(args)
	case "/docs":
		err = r.docs()
	case "/upload":
		err = r.upload(args)
	case "/history":
		err = r.history()
	case "/ratings":
		err = r.ratings()
	case "/clear":
		err = r.clear()
	default:
		err = fmt.Errorf("unknown command %s, try /help", cmd)
	}
	if err != nil {
		r.view.Alert(err.Error())
	}
	return true
}

func (r *repl) rate(args string) error {
	fields := strings.SplitN(args, " ", 3)
	if len(fields) < 2 {
		return errors.New("usage: /rate <n> <+|-> [comment]")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("section number: %w", err)
	}
	sec, ok := r.view.section(n)
	if !ok {
		return fmt.Errorf("no section %d in the last answer", n)
	}
	return r.submit(sec.ID, fields[1], fields[2:])
}

func (r *repl) overall(args string) error {
	fields := strings.SplitN(args, " ", 2)
	if fields[0] == "" {
		return errors.New("usage: /overall <+|-> [comment]")
	}
	last := r.view.last()
	if last == "" {
		return errors.New("no finished answer to rate")
	}
	return r.submit(feedback.OverallID(last), fields[0], fields[1:])
}

func (r *repl) submit(affordanceID, polarity string, rest []string) error {
	p, err := domain.ParsePolarity(polarity)
	if err != nil {
		return err
	}
	comment := ""
	if len(rest) > 0 {
		comment = rest[0]
	}
	_, err = r.chat.Rate(r.ctx, affordanceID, p, comment)
	return err
}

func (r *repl) export(args string) error {
	id := args
	if id == "" {
		id = r.view.last()
	}
	if id == "" {
		return errors.New("no finished answer to export")
	}
	return r.chat.ExportPDF(r.ctx, id)
}

func (r *repl) docs() error {
	docs, err := r.api.Documents(r.ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("no documents")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("  %-40s %8d bytes  %s\n", d.Name, d.Size, d.UploadedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func (r *repl) upload(path string) error {
	if path == "" {
		return errors.New("usage: /upload <file.pdf>")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	doc, err := r.api.UploadDocument(r.ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	color.Green("uploaded %s (%d bytes)", doc.Name, doc.Size)
	return nil
}

func (r *repl) history() error {
	if _, err := r.chat.EnsureSession(r.ctx); err != nil {
		return err
	}
	entries, err := r.api.History(r.ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s: %s\n", e.Timestamp.Local().Format("15:04"), e.Role, e.Content)
	}
	return nil
}

func (r *repl) ratings() error {
	if r.chat.Session() == "" {
		return errors.New("no session yet")
	}
	recs, err := r.api.Feedback(r.ctx)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no ratings")
		return nil
	}
	for _, rec := range recs {
		target := rec.SectionID
		if rec.IsOverall() {
			target = rec.MessageID + " (overall)"
		}
		fmt.Printf("  %-8s %s", rec.Polarity, target)
		if rec.Comment != "" {
			fmt.Printf(": %s", rec.Comment)
		}
		fmt.Println()
	}
	return nil
}

func (r *repl) clear() error {
	if r.chat.Session() == "" {
		return errors.New("no session yet")
	}
	if err := r.api.ClearHistory(r.ctx); err != nil {
		return err
	}
	r.chat.ResetContext()
	color.Green("conversation cleared")
	return nil
}

func loadHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
