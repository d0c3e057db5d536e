package engine

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowrun/internal/pieces"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/pkg/schema"
)

// cronParser accepts standard 5-field cron expressions for DELAY pauses.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// hookCapture is the per-attempt side-effect record. Hooks invoked by
// action code write here instead of into the execution context, so a
// failed attempt leaves no trace and the executor decides what commits.
type hookCapture struct {
	stopped      bool
	stopResponse *schema.StopPayload

	paused       bool
	pausePayload *schema.PausePayload
	pauseErr     error

	tags []string
}

func newHookCapture() *hookCapture {
	return &hookCapture{}
}

// buildActionContext assembles the execution handle an action sees for one
// attempt. All hooks close over the given capture record.
func (e *PieceExecutor) buildActionContext(
	ec ExecutionContext,
	action *schema.Action,
	input map[string]any,
	mode pieces.ExecutionType,
	capture *hookCapture,
) *pieces.ActionContext {
	return &pieces.ActionContext{
		Mode:      mode,
		FlowRunID: ec.FlowRunID,
		StepName:  action.Name,
		ProjectID: ec.ProjectID,
		Server: pieces.ServerInfo{
			PublicURL: e.constants.PublicURL,
			APIURL:    e.constants.APIURL,
			Token:     e.constants.WorkerToken,
		},
		Input: input,
		Store: store.NewFlowKV(e.store, ec.FlowRunID),
		Files: store.NewDiskFiles(e.constants.FilesDir, ec.FlowRunID, action.Name),
		Connection: func(ctx context.Context, name string) map[string]any {
			value, err := e.store.GetConnection(ctx, ec.ProjectID, name)
			if err != nil {
				e.logger.DebugContext(ctx, "connection lookup failed",
					"connection", name, "error", err.Error())
				return nil
			}
			return value
		},
		AddTag: func(tag string) {
			capture.tags = append(capture.tags, tag)
		},
		Stop: func(params pieces.StopParams) {
			capture.stopped = true
			capture.stopResponse = &schema.StopPayload{Response: params.Response}
		},
		Pause: func(params pieces.PauseParams) {
			capture.paused = true
			capture.pausePayload, capture.pauseErr = e.buildPausePayload(ec, params)
		},
		ResumeURL: func(query map[string]string) string {
			return ResumeURL(e.constants.PublicURL, ec.FlowRunID, ec.PauseRequestID, query)
		},
	}
}

// buildPausePayload converts the hook params into the verdict payload.
// DELAY resume time comes from the cron schedule when given, otherwise
// from the relative delay.
func (e *PieceExecutor) buildPausePayload(ec ExecutionContext, params pieces.PauseParams) (*schema.PausePayload, error) {
	switch params.Type {
	case schema.PauseTypeWebhook:
		return &schema.PausePayload{
			Type: schema.PauseTypeWebhook,
			Webhook: &schema.WebhookPause{
				RequestID: ec.PauseRequestID,
				Response:  params.Response,
			},
		}, nil
	case schema.PauseTypeDelay:
		now := time.Now().UTC()
		resumeAt := now.Add(params.Delay)
		if params.Cron != "" {
			sched, err := cronParser.Parse(params.Cron)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"invalid cron expression %q: %s", params.Cron, err.Error()).WithCause(err)
			}
			resumeAt = sched.Next(now)
		}
		return &schema.PausePayload{
			Type:  schema.PauseTypeDelay,
			Delay: &schema.DelayPause{ResumeAt: resumeAt},
		}, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown pause type %q", params.Type)
	}
}

// ResumeURL builds the externally reachable URL that resumes a suspended
// flow run, appending the query parameters in sorted key order.
func ResumeURL(publicURL, flowRunID, pauseRequestID string, query map[string]string) string {
	base := strings.TrimSuffix(publicURL, "/")
	u := base + "/v1/flow-runs/" + url.PathEscape(flowRunID) + "/requests/" + url.PathEscape(pauseRequestID)
	if len(query) == 0 {
		return u
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, query[k])
	}
	return u + "?" + values.Encode()
}
