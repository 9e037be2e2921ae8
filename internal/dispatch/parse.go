package dispatch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"dyncmd/internal/audit"
	"dyncmd/internal/command"
)

// transportMarker is a trailing tag some chat clients append to messages.
const transportMarker = "\U000E0000"

// Parse resolves cc's working string to a command and runs it.
//
// Input that does not start with the prefix, or is empty after it, is
// ignored. A non-empty result is sent to the caller's feedback sink. When a
// script fails, the script's own error is returned; usage errors are also
// relayed to the caller with the prefix placeholder filled in.
func (r *Registry) Parse(ctx context.Context, cc *command.Context, extras map[string]any) error {
	if cc == nil {
		cc = command.NewContext("", nil)
	}
	working := cc.WorkingString()
	if !strings.HasPrefix(working, r.prefix) {
		return nil
	}
	input := strings.TrimPrefix(working, r.prefix)
	input = strings.TrimSpace(strings.TrimRight(input, transportMarker))
	if input == "" {
		return nil
	}

	tokens := strings.Split(input, r.opts.Delimiter)
	name, args := tokens[0], tokens[1:]

	reqID := uuid.NewString()
	log := r.log.WithRequestID(reqID)
	start := time.Now()

	c := r.Command(name)
	if c == nil {
		err := command.NotFound(name, cc)
		r.record(ctx, reqID, name, args, cc, start, err)
		return err
	}

	kwargs := make(map[string]any, len(extras)+1)
	for k, v := range extras {
		kwargs[k] = v
	}
	kwargs[command.KwargContext] = cc

	log.Debug("dispatching '%s' for %s (args=%q)", c.Name(), cc.Source(), args)
	out, err := c.Execute(ctx, args, kwargs)
	r.record(ctx, reqID, c.Name(), args, cc, start, err)

	if err != nil {
		ce, ok := command.AsError(err)
		if !ok || ce.Kind != command.KindExecution || ce.Cause == nil {
			log.Debug("%v", err)
			return err
		}
		log.Warn("%T while executing command: %v", ce.Cause, ce.Cause)
		if command.IsUsage(ce.Cause) {
			if msg := ce.Cause.Error(); msg != "" {
				cc.Source().SendFeedback(strings.ReplaceAll(msg, command.PrefixPlaceholder, r.prefix))
			}
		}
		return ce.Cause
	}

	if out != "" {
		cc.Source().SendFeedback(out)
	}
	return nil
}

func (r *Registry) record(ctx context.Context, id, name string, args []string, cc *command.Context, start time.Time, err error) {
	if r.opts.Recorder == nil {
		return
	}
	e := audit.Entry{
		ID:         id,
		Command:    name,
		Args:       args,
		Source:     cc.Source().DisplayName,
		Permission: cc.Source().Permission,
		Outcome:    audit.OutcomeOK,
		Duration:   time.Since(start),
		CreatedAt:  start,
	}
	if err != nil {
		e.Outcome = command.KindExecution.String()
		if ce, ok := command.AsError(err); ok {
			e.Outcome = ce.Kind.String()
			if ce.Kind == command.KindExecution && command.IsUsage(ce.Cause) {
				e.Outcome = command.KindImproperUsage.String()
			}
		}
		e.Error = err.Error()
		if ce, ok := command.AsError(err); ok && ce.Cause != nil {
			e.Error = ce.Cause.Error()
		}
	}
	if rerr := r.opts.Recorder.Record(ctx, e); rerr != nil {
		r.log.Warn("failed to record invocation %s: %v", id, rerr)
	}
}
