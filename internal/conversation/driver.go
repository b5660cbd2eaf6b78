// Package conversation drives multi-turn conversations against a deployed
// bot and decodes the ordered conversation log the service returns.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// Default bounds for AwaitLog.
const (
	DefaultSettleInterval = 100 * time.Millisecond
	DefaultSettleTimeout  = 10 * time.Second
)

// Options selects the shape of a reply.
type Options struct {
	ReturnDetailed        bool
	ReturnCurrentStepOnly bool
}

func (o Options) query() string {
	q := url.Values{}
	q.Set("returnDetailed", strconv.FormatBool(o.ReturnDetailed))
	q.Set("returnCurrentStepOnly", strconv.FormatBool(o.ReturnCurrentStepOnly))
	return q.Encode()
}

// Reply is a conversation snapshot together with the raw response it was
// decoded from.
type Reply struct {
	Response *client.Response
	Log      *Log
}

// CheckBot verifies the snapshot belongs to bot at its version.
func (r *Reply) CheckBot(bot resource.ID) error {
	if r.Log.BotID != bot.ID || r.Log.BotVersion != bot.Version {
		return &resource.ProtocolError{
			Op:     "conversation",
			Method: r.Response.Method,
			URL:    r.Response.URL,
			Want:   fmt.Sprintf("botId %s botVersion %d", bot.ID, bot.Version),
			Status: r.Response.Status,
			Body:   fmt.Sprintf("botId %s botVersion %d", r.Log.BotID, r.Log.BotVersion),
		}
	}
	return nil
}

// Driver opens conversations and exchanges turns with a deployed bot.
type Driver struct {
	client         *client.Client
	logger         *slog.Logger
	settleInterval time.Duration
	settleTimeout  time.Duration
	newTimer       func() backoff.Timer
}

// Option configures a Driver.
type Option func(*Driver)

// WithSettle bounds AwaitLog.
func WithSettle(interval, timeout time.Duration) Option {
	return func(d *Driver) {
		if interval > 0 {
			d.settleInterval = interval
		}
		if timeout > 0 {
			d.settleTimeout = timeout
		}
	}
}

// WithTimer supplies the timer used between settle reads.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(d *Driver) { d.newTimer = newTimer }
}

// NewDriver returns a Driver using c.
func NewDriver(c *client.Client, opts ...Option) *Driver {
	d := &Driver{
		client:         c,
		logger:         c.Logger(),
		settleInterval: DefaultSettleInterval,
		settleTimeout:  DefaultSettleTimeout,
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) botPath(bot resource.ID) string {
	return fmt.Sprintf("/bots/%s/%s", d.client.Environment(), bot.ID)
}

func (d *Driver) conversationPath(bot, conv resource.ID) string {
	return d.botPath(bot) + "/" + conv.ID
}

// Create opens a conversation with bot, optionally for userID, and
// returns the conversation ID from the Location header.
func (d *Driver) Create(ctx context.Context, bot resource.ID, userID string) (resource.ID, error) {
	path := d.botPath(bot)
	if userID != "" {
		path += "/?userId=" + url.QueryEscape(userID)
	}
	resp, err := d.client.Do(ctx, client.Request{Method: http.MethodPost, Path: path})
	if err != nil {
		return resource.ID{}, fmt.Errorf("create conversation: %w", err)
	}
	if resp.Status != http.StatusCreated {
		return resource.ID{}, resource.Violation("create conversation", resp, "status 201")
	}
	conv, err := resource.ParseLocation(resp.Location())
	if err != nil {
		return resource.ID{}, fmt.Errorf("create conversation: %w", err)
	}
	d.logger.Info("conversation created", "bot", bot.ID, "conversation", conv.ID, "user", userID)
	return conv, nil
}

// Start creates a conversation and returns a session tracking it.
func (d *Driver) Start(ctx context.Context, bot resource.ID, userID string) (*Session, error) {
	conv, err := d.Create(ctx, bot, userID)
	if err != nil {
		return nil, err
	}
	return NewSession(bot, conv, userID), nil
}

// Say sends plain-text input.
func (d *Driver) Say(ctx context.Context, bot, conv resource.ID, text string, opts Options) (*Reply, error) {
	path := d.conversationPath(bot, conv) + "?" + opts.query()
	resp, err := d.client.PostText(ctx, path, text)
	if err != nil {
		return nil, fmt.Errorf("say: %w", err)
	}
	return d.reply("say", conv, resp)
}

// SayWithContext sends input together with typed context values.
func (d *Driver) SayWithContext(ctx context.Context, bot, conv resource.ID, in InputData, opts Options) (*Reply, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("say with context: %w", err)
	}
	path := d.conversationPath(bot, conv) + "?" + opts.query()
	resp, err := d.client.PostJSON(ctx, path, in.wire())
	if err != nil {
		return nil, fmt.Errorf("say with context: %w", err)
	}
	return d.reply("say with context", conv, resp)
}

// Log reads the whole conversation.
func (d *Driver) Log(ctx context.Context, bot, conv resource.ID, detailed bool) (*Reply, error) {
	path := d.conversationPath(bot, conv) + "?returnDetailed=" + strconv.FormatBool(detailed)
	resp, err := d.client.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("conversation log: %w", err)
	}
	return d.reply("conversation log", conv, resp)
}

// Predicate decides whether a snapshot has settled.
type Predicate func(*Log) bool

// MinSteps holds once the log shows at least n steps.
func MinSteps(n int) Predicate {
	return func(l *Log) bool { return l.StepCount() >= n }
}

var errNotSettled = errors.New("conversation log not settled")

// AwaitLog reads the conversation until until holds, backing off between
// reads. It gives up after the settle timeout and returns the last reply
// together with the error.
func (d *Driver) AwaitLog(ctx context.Context, bot, conv resource.ID, detailed bool, until Predicate) (*Reply, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.settleInterval
	b.MaxInterval = 4 * d.settleInterval
	b.MaxElapsedTime = d.settleTimeout

	var last *Reply
	reads := 0
	op := func() error {
		reply, err := d.Log(ctx, bot, conv, detailed)
		if err != nil {
			return backoff.Permanent(err)
		}
		reads++
		last = reply
		if !until(reply.Log) {
			return errNotSettled
		}
		return nil
	}

	var timer backoff.Timer
	if d.newTimer != nil {
		timer = d.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), nil, timer)
	if errors.Is(err, errNotSettled) {
		return last, fmt.Errorf("conversation %s: log did not settle after %d reads", conv.ID, reads)
	}
	if err != nil {
		return last, err
	}
	d.logger.Debug("conversation settled", "conversation", conv.ID, "reads", reads)
	return last, nil
}

// reply decodes a log-bearing response. 410 becomes an *EndedError.
func (d *Driver) reply(op string, conv resource.ID, resp *client.Response) (*Reply, error) {
	if resp.Status == http.StatusGone {
		if resp.Text() != EndedMessage {
			return nil, resource.Violation(op, resp, fmt.Sprintf("body %q", EndedMessage))
		}
		return nil, &EndedError{Conversation: conv.ID, Status: resp.Status, Body: resp.Text()}
	}
	if resp.Status != http.StatusOK {
		return nil, resource.Violation(op, resp, "status 200")
	}
	if err := ValidateLogShape(resp.Body); err != nil {
		return nil, fmt.Errorf("%s: %w", op, &resource.ProtocolError{
			Op: op, Method: resp.Method, URL: resp.URL, Want: "conversation log shape: " + err.Error(),
			Status: resp.Status, Body: string(resp.Body),
		})
	}
	var l Log
	if err := resp.JSON(&l); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Reply{Response: resp, Log: &l}, nil
}
