package conversation

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labsai/EDDI-integration-tests/internal/client"
	"github.com/labsai/EDDI-integration-tests/internal/resource"
)

// BotDeployment binds a bot to an environment inside a trigger.
type BotDeployment struct {
	Environment    string         `json:"environment"`
	BotID          string         `json:"botId"`
	InitialContext map[string]any `json:"initialContext,omitempty"`
}

// BotTrigger routes an intent to the bots serving it. The service keeps
// one conversation per intent and user.
type BotTrigger struct {
	Intent         string          `json:"intent"`
	BotDeployments []BotDeployment `json:"botDeployments"`
}

// NewBotTrigger returns a trigger routing intent to bot in environment.
func NewBotTrigger(intent, environment string, bot resource.ID) BotTrigger {
	return BotTrigger{
		Intent:         intent,
		BotDeployments: []BotDeployment{{Environment: environment, BotID: bot.ID}},
	}
}

// PutTrigger stores the trigger for its intent.
func (d *Driver) PutTrigger(ctx context.Context, trigger BotTrigger) error {
	resp, err := d.client.PutJSON(ctx, "/bottriggerstore/bottriggers/"+url.PathEscape(trigger.Intent), trigger)
	if err != nil {
		return fmt.Errorf("put bot trigger: %w", err)
	}
	if resp.Status != http.StatusOK {
		return resource.Violation("put bot trigger", resp, "status 200")
	}
	return nil
}

// EndManaged ends the managed conversation of userID for intent.
func (d *Driver) EndManaged(ctx context.Context, intent, userID string) error {
	path := fmt.Sprintf("/managedbots/%s/%s/endConversation", url.PathEscape(intent), url.PathEscape(userID))
	resp, err := d.client.Do(ctx, client.Request{Method: http.MethodPost, Path: path})
	if err != nil {
		return fmt.Errorf("end managed conversation: %w", err)
	}
	if resp.Status != http.StatusOK {
		return resource.Violation("end managed conversation", resp, "status 200")
	}
	return nil
}

// SayManaged sends input to the managed conversation of userID for
// intent, starting one when none is active.
func (d *Driver) SayManaged(ctx context.Context, intent, userID string, in InputData, currentStepOnly bool) (*Reply, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("say managed: %w", err)
	}
	path := fmt.Sprintf("/managedbots/%s/%s?returnCurrentStepOnly=%s",
		url.PathEscape(intent), url.PathEscape(userID), strconv.FormatBool(currentStepOnly))
	resp, err := d.client.PostJSON(ctx, path, in.wire())
	if err != nil {
		return nil, fmt.Errorf("say managed: %w", err)
	}
	return d.reply("say managed", resource.ID{ID: intent + "/" + userID}, resp)
}
