package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/conversation"
	"github.com/labsai/EDDI-integration-tests/internal/deploy"
	"github.com/labsai/EDDI-integration-tests/internal/fixture"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// executeSteps runs the steps in order and checks their expectations. It
// stops at the first step that fails to execute, since later steps build
// on its effects, and reports whether every step ran.
func (r *runner) executeSteps(ctx context.Context, result *Result) bool {
	for i := range r.scenario.Steps {
		step := &r.scenario.Steps[i]
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("%d:%s", i+1, step.Action())
		}
		stepCtx := client.WithStep(ctx, label)

		out := r.execute(stepCtx, step)
		if out.err != nil && !out.expectedFailure(step.Expect) {
			result.AddError(fmt.Sprintf("step %s: %v", label, out.err))
			r.logger.Warn("step failed", "step", label, "error", out.err)
			return false
		}
		for _, msg := range checkExpect(step.Expect, out) {
			result.AddError(fmt.Sprintf("step %s: %s", label, msg))
		}
		r.logger.Debug("step completed", "step", label, "status", out.status())
	}
	return true
}

func (r *runner) execute(ctx context.Context, step *Step) *outcome {
	switch {
	case step.Create != nil:
		return r.create(ctx, step.Create)
	case step.Read != nil:
		return r.read(ctx, step.Read)
	case step.Update != nil:
		return r.mutate(ctx, step.Update, false)
	case step.Patch != nil:
		return r.mutate(ctx, step.Patch, true)
	case step.Delete != nil:
		return r.delete(ctx, step.Delete)
	case step.Deploy != nil:
		return r.deploy(ctx, step.Deploy)
	case step.Conversation != nil:
		return r.openConversation(ctx, step.Conversation)
	case step.Say != nil:
		return r.say(ctx, step.Say)
	case step.Log != nil:
		return r.readLog(ctx, step.Log)
	case step.Parse != nil:
		return r.parse(ctx, step.Parse)
	case step.Trigger != nil:
		return r.putTrigger(ctx, step.Trigger)
	case step.Managed != nil:
		return r.managed(ctx, step.Managed)
	default:
		return &outcome{err: fmt.Errorf("step has no action")}
	}
}

// body builds the request body of a resource step from its fixture or
// inline body, with placeholders substituted.
func (r *runner) body(rs *ResourceStep, target *boundResource) (json.RawMessage, error) {
	vars := r.vars(target)
	if rs.Fixture != "" {
		return r.fixtures.LoadJSON(rs.Fixture, vars)
	}
	data, err := json.Marshal(rs.Body)
	if err != nil {
		return nil, fmt.Errorf("encode inline body: %w", err)
	}
	return fixture.Substitute(data, vars), nil
}

// target resolves the resource a step operates on. A collection given
// together with an alias must match the collection the alias was
// created in.
func (r *runner) target(rs *ResourceStep) (*boundResource, error) {
	alias := rs.Resource
	if alias == "" {
		alias = rs.Collection
	}
	b, err := r.resource(alias)
	if err != nil {
		return nil, err
	}
	if rs.Collection != "" {
		if coll, _ := resource.Lookup(rs.Collection); coll.Name != b.coll.Name {
			return nil, fmt.Errorf("resource %q is a %s, not a %s", alias, b.coll.Name, coll.Name)
		}
	}
	return b, nil
}

func (r *runner) create(ctx context.Context, rs *ResourceStep) *outcome {
	coll, _ := resource.Lookup(rs.Collection)
	body, err := r.body(rs, nil)
	if err != nil {
		return &outcome{err: err}
	}
	d := resource.NewDriver(r.client)
	id, err := d.Create(ctx, coll, body)
	if err != nil {
		return &outcome{err: err}
	}
	r.bind(rs.Alias(), coll, id)
	return &outcome{id: id, code: http.StatusCreated}
}

func (r *runner) read(ctx context.Context, rs *ResourceStep) *outcome {
	b, err := r.target(rs)
	if err != nil {
		return &outcome{err: err}
	}
	resp, err := b.driver.Read(ctx, b.coll)
	return &outcome{resp: resp, id: b.driver.Current(), err: err}
}

func (r *runner) mutate(ctx context.Context, rs *ResourceStep, patch bool) *outcome {
	b, err := r.target(rs)
	if err != nil {
		return &outcome{err: err}
	}
	body, err := r.body(rs, b)
	if err != nil {
		return &outcome{err: err}
	}
	var resp *client.Response
	if patch {
		resp, err = b.driver.Patch(ctx, b.coll, body)
	} else {
		resp, err = b.driver.Update(ctx, b.coll, body)
	}
	return &outcome{resp: resp, id: b.driver.Current(), err: err}
}

func (r *runner) delete(ctx context.Context, rs *ResourceStep) *outcome {
	b, err := r.target(rs)
	if err != nil {
		return &outcome{err: err}
	}
	if err := b.driver.Delete(ctx, b.coll); err != nil {
		return &outcome{id: b.driver.Current(), err: err}
	}
	return &outcome{id: b.driver.Current(), code: http.StatusOK}
}

func (r *runner) deploy(ctx context.Context, ds *DeployStep) *outcome {
	id, err := r.bot(ds.Bot)
	if err != nil {
		return &outcome{err: err}
	}
	p := r.poller
	if ds.AutoDeploy != nil {
		opts := append([]deploy.Option{deploy.WithLogger(r.logger)}, r.env.DeployOptions...)
		p = deploy.NewPoller(r.client, append(opts, deploy.WithAutoDeploy(*ds.AutoDeploy))...)
	}
	if err := p.Deploy(ctx, id); err != nil {
		return &outcome{id: id, err: err}
	}
	return &outcome{id: id}
}

func (r *runner) openConversation(ctx context.Context, cs *ConversationStep) *outcome {
	bot, err := r.bot(cs.Bot)
	if err != nil {
		return &outcome{err: err}
	}
	user := cs.User
	if user == "" {
		user = r.env.UserIDs()
		r.names.add(user, cs.As+".user")
	}
	sess, err := r.convs.Start(ctx, bot, user)
	if err != nil {
		return &outcome{err: err}
	}
	r.names.add(sess.Conversation.ID, cs.As)
	r.mu.Lock()
	r.sessions[cs.As] = sess
	r.mu.Unlock()
	return &outcome{session: sess, code: http.StatusCreated}
}

// observe folds a conversation reply into the session and the trace.
func (r *runner) observe(sess *conversation.Session, reply *conversation.Reply, err error) *outcome {
	if conversation.IsEnded(err) && sess != nil {
		sess.State = conversation.StateEnded
	}
	if err != nil {
		return &outcome{session: sess, err: err}
	}
	if sess != nil {
		sess.Observe(reply.Log)
	}
	if last, ok := reply.Log.LastStep(); ok {
		r.trace.annotate(reply.Response.Seq, last.Keys())
	}
	out := &outcome{resp: reply.Response, log: reply.Log, session: sess}
	if sess != nil {
		out.err = reply.CheckBot(sess.Bot)
	}
	return out
}

func (r *runner) say(ctx context.Context, ss *SayStep) *outcome {
	sess, err := r.session(ss.Conversation)
	if err != nil {
		return &outcome{err: err}
	}
	opts := conversation.Options{ReturnDetailed: ss.Detailed, ReturnCurrentStepOnly: ss.CurrentStepOnly}
	var reply *conversation.Reply
	if len(ss.Context) == 0 {
		reply, err = r.convs.Say(ctx, sess.Bot, sess.Conversation, ss.Input, opts)
	} else {
		in := conversation.InputData{Input: ss.Input, Context: make(map[string]conversation.Context, len(ss.Context))}
		for name, cv := range ss.Context {
			in.Context[name] = conversation.Context{Type: conversation.ContextType(cv.Type), Value: cv.Value}
		}
		reply, err = r.convs.SayWithContext(ctx, sess.Bot, sess.Conversation, in, opts)
	}
	return r.observe(sess, reply, err)
}

func (r *runner) readLog(ctx context.Context, ls *LogStep) *outcome {
	sess, err := r.session(ls.Conversation)
	if err != nil {
		return &outcome{err: err}
	}
	var reply *conversation.Reply
	if ls.MinSteps > 0 {
		reply, err = r.convs.AwaitLog(ctx, sess.Bot, sess.Conversation, ls.Detailed, conversation.MinSteps(ls.MinSteps))
	} else {
		reply, err = r.convs.Log(ctx, sess.Bot, sess.Conversation, ls.Detailed)
	}
	return r.observe(sess, reply, err)
}

func (r *runner) parse(ctx context.Context, ps *ParseStep) *outcome {
	b, err := r.resource(ps.Alias())
	if err != nil {
		return &outcome{err: err}
	}
	if b.coll.Name != resource.Parsers.Name {
		return &outcome{err: fmt.Errorf("resource %q is a %s, not a parser", ps.Alias(), b.coll.Name)}
	}
	res, err := r.parser.Run(ctx, b.driver.Current(), ps.Input)
	if err != nil {
		return &outcome{err: err}
	}
	return &outcome{resp: res.Response, id: b.driver.Current()}
}

func (r *runner) putTrigger(ctx context.Context, ts *TriggerStep) *outcome {
	bot, err := r.bot(ts.Bot)
	if err != nil {
		return &outcome{err: err}
	}
	if err := r.convs.PutTrigger(ctx, conversation.NewBotTrigger(ts.Intent, r.client.Environment(), bot)); err != nil {
		return &outcome{id: bot, err: err}
	}
	return &outcome{id: bot, code: http.StatusOK}
}

func (r *runner) managed(ctx context.Context, ms *ManagedStep) *outcome {
	if ms.End {
		if err := r.convs.EndManaged(ctx, ms.Intent, ms.User); err != nil {
			return &outcome{err: err}
		}
		return &outcome{code: http.StatusOK}
	}
	reply, err := r.convs.SayManaged(ctx, ms.Intent, ms.User, conversation.InputData{Input: ms.Input}, ms.CurrentStepOnly)
	return r.observe(nil, reply, err)
}
