package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/labsai/EDDI-integration-tests/internal/conversation"
)

// SayOptions holds flags for the say command.
type SayOptions struct {
	*RootOptions
	User         string
	Detailed     bool
	AwaitWelcome bool
}

// TurnResult is one exchange of the say command.
type TurnResult struct {
	Input   string   `json:"input"`
	Keys    []string `json:"keys,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	State   string   `json:"state"`
	Error   string   `json:"error,omitempty"`
}

// SayResult holds the conversation driven by the say command.
type SayResult struct {
	Bot          string       `json:"bot"`
	Version      int          `json:"version"`
	Conversation string       `json:"conversation"`
	UserID       string       `json:"user_id,omitempty"`
	Turns        []TurnResult `json:"turns"`
}

// NewSayCommand creates the say command.
func NewSayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "say <bot> <input>...",
		Short: "Talk to a deployed bot",
		Long: `Open a conversation with a deployed bot and send each input in turn,
printing the actions and outputs of every step. The bot is given as for
deploy. Sending stops when the conversation ends.

Examples:
  eddi-conform say 5b0d2a1ee4b0e4a1c2f0a7d1 hello bye
  eddi-conform say 5b0d2a1ee4b0e4a1c2f0a7d1:2 "what is the weather" --detailed`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSay(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user id of the conversation")
	cmd.Flags().BoolVar(&opts.Detailed, "detailed", false, "request detailed steps")
	cmd.Flags().BoolVar(&opts.AwaitWelcome, "await-welcome", false, "wait for the welcome step before the first input")

	return cmd
}

func runSay(opts *SayOptions, ref string, inputs []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	bot, err := parseBotRef(ref)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConversation, "invalid bot reference", err)
	}
	cfg, c, err := opts.connect(cmd)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "cannot configure client", err)
	}

	driver := conversation.NewDriver(c, cfg.ConversationOptions()...)
	session, err := driver.Start(ctx, bot, opts.User)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeConversation, "cannot start conversation", err)
	}

	result := SayResult{
		Bot:          bot.ID,
		Version:      bot.Version,
		Conversation: session.Conversation.ID,
		UserID:       opts.User,
		Turns:        []TurnResult{},
	}

	if opts.AwaitWelcome {
		reply, err := driver.AwaitLog(ctx, bot, session.Conversation, opts.Detailed, conversation.MinSteps(1))
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeConversation, "welcome step missing", err)
		}
		session.Observe(reply.Log)
		result.Turns = append(result.Turns, turnFrom("", reply.Log, session))
	}

	var failure error
	for _, input := range inputs {
		reply, err := driver.Say(ctx, bot, session.Conversation, input, conversation.Options{
			ReturnDetailed:        opts.Detailed,
			ReturnCurrentStepOnly: true,
		})
		if err == nil {
			err = reply.CheckBot(bot)
		}
		if err != nil {
			turn := TurnResult{Input: input, State: string(session.State), Error: err.Error()}
			result.Turns = append(result.Turns, turn)
			if !conversation.IsEnded(err) {
				failure = err
			}
			break
		}
		session.Observe(reply.Log)
		result.Turns = append(result.Turns, turnFrom(input, reply.Log, session))
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeConversation, Message: failure.Error()}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		renderTurns(formatter, result, opts.Detailed)
	}

	if failure != nil {
		return WrapExitError(ExitFailure, "conversation failed", failure)
	}
	return nil
}

// turnFrom summarises the last step of l.
func turnFrom(input string, l *conversation.Log, session *conversation.Session) TurnResult {
	turn := TurnResult{Input: input, State: string(session.State)}
	step, ok := l.LastStep()
	if !ok {
		return turn
	}
	turn.Keys = step.Keys()
	if e, ok := step.Find("actions"); ok {
		turn.Actions = stringsOf(e.Value)
	}
	for _, e := range step.Entries {
		if !strings.HasPrefix(e.Key, "output:text") {
			continue
		}
		if m, ok := e.Value.(map[string]any); ok {
			if text, ok := m["text"].(string); ok {
				turn.Outputs = append(turn.Outputs, text)
				continue
			}
		}
		turn.Outputs = append(turn.Outputs, fmt.Sprint(e.Value))
	}
	return turn
}

func stringsOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{fmt.Sprint(v)}
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = fmt.Sprint(item)
	}
	return out
}

func renderTurns(f *OutputFormatter, result SayResult, detailed bool) {
	fmt.Fprintf(f.Writer, "Conversation %s with bot %s version %d\n", result.Conversation, result.Bot, result.Version)

	header := table.Row{"#", "Input", "Actions", "Output", "State"}
	if detailed {
		header = append(header, "Keys")
	}
	rows := make([]table.Row, 0, len(result.Turns))
	for i, t := range result.Turns {
		output := strings.Join(t.Outputs, "\n")
		if t.Error != "" {
			output = t.Error
		}
		row := table.Row{i + 1, t.Input, strings.Join(t.Actions, ", "), output, t.State}
		if detailed {
			row = append(row, strings.Join(t.Keys, "\n"))
		}
		rows = append(rows, row)
	}
	f.Table(header, rows)
}
