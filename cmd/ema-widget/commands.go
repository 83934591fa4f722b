package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/koscakluka/ema-widget/cmd/ema-widget/tui"
	widget "github.com/koscakluka/ema-widget/core"
	"github.com/koscakluka/ema-widget/core/messages"
	"github.com/koscakluka/ema-widget/core/sanitize"
)

func modeFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "mode",
		Aliases: []string{"m"},
		Usage:   "Chat mode (user or admin), defaults to default_mode",
	}
}

func ChatCommand() *cli.Command {
	return &cli.Command{
		Name:   "chat",
		Usage:  "Open the chat panel",
		Flags:  []cli.Flag{modeFlag()},
		Action: runChat,
	}
}

func AskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask one question and stream the reply to stdout",
		ArgsUsage: "QUESTION",
		Flags:     []cli.Flag{modeFlag()},
		Action:    runAsk,
	}
}

func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:   "history",
		Usage:  "Print the stored conversation of a mode",
		Flags:  []cli.Flag{modeFlag()},
		Action: runHistory,
	}
}

func runChat(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	updates := tui.NewUpdates()
	w, err := newWidget(c.Context, cfg, updates.Options()...)
	if err != nil {
		return err
	}
	defer w.Close()

	// Without --mode the panel starts on the mode picker.
	mode := c.String("mode")
	if err := w.SetMode(c.Context, mode); err != nil {
		log.Warn().Err(err).Str("mode", mode).Msg("failed to load history")
	}

	return tui.Run(c.Context, w, updates, cfg.ClassMode, mode)
}

// replyPrinter writes assistant messages to out as they grow.
type replyPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[string]int
	order   []string
}

func newReplyPrinter(out io.Writer) *replyPrinter {
	return &replyPrinter{out: out, printed: map[string]int{}}
}

func (p *replyPrinter) conversationChanged(conversation widget.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, message := range conversation.Messages {
		if message.Role != messages.RoleAssistant {
			continue
		}
		n, seen := p.printed[message.ID]
		if !seen {
			if len(p.order) > 0 {
				fmt.Fprintln(p.out)
			}
			p.order = append(p.order, message.ID)
		}
		if len(message.Content) > n {
			fmt.Fprint(p.out, message.Content[n:])
			n = len(message.Content)
		}
		p.printed[message.ID] = n
	}
}

func runAsk(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mode := c.String("mode")
	if mode == "" {
		mode = cfg.DefaultMode
	}

	printer := newReplyPrinter(c.App.Writer)
	finished := make(chan widget.Turn, 1)
	w, err := newWidget(c.Context, cfg,
		widget.WithMode(mode),
		widget.WithPendingStatus(""),
		widget.WithOnConversationChanged(printer.conversationChanged),
		widget.WithOnTurnStateChanged(func(turn widget.Turn) {
			if turn.State.IsTerminal() {
				select {
				case finished <- turn:
				default:
				}
			}
		}),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	if _, err := w.Send(c.Context, question); err != nil {
		return err
	}

	select {
	case turn := <-finished:
		fmt.Fprintln(c.App.Writer)
		if turn.Err != nil {
			return fmt.Errorf("reply incomplete: %w", turn.Err)
		}
		return nil
	case <-c.Context.Done():
		w.Cancel()
		return c.Context.Err()
	}
}

func runHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	mode := c.String("mode")
	if mode == "" {
		mode = cfg.DefaultMode
	}

	history, err := newHistory(cfg).Load(c.Context, mode)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	sanitizer := sanitize.New()
	for _, message := range history {
		content := message.Content
		if message.IsMedia() {
			content = sanitizer.Sanitize(content)
		}
		fmt.Fprintf(c.App.Writer, "%s: %s\n", message.Role, content)
	}
	return nil
}
