// Package agentloop implements a streaming tool-orchestration loop.
//
// A Session drives one conversation. Each user turn streams a model
// response, forwards every content, thought and tool-call event to an
// observer as it arrives, hands requested tool calls to a Scheduler, waits
// for every call to finish (pausing for human confirmation when the
// scheduler asks for it), and feeds the results back to the model until it
// stops requesting tools.
//
// Around that loop the package provides model fallback on quota
// exhaustion, cooperative cancellation, a bounded round count, and an
// LLM-backed ModelSession over the unifiedllm client.
//
// # Architecture
//
//   - Session: turn loop, cancellation and confirmation state.
//   - ModelSession: one conversation with a model, streamed as StreamEvents.
//   - Scheduler: validates, confirms and executes tool calls.
//   - FallbackPolicy: the ordered model chain used on quota errors.
//   - Event / Observer: the observer-facing event stream.
//
// # Quick Start
//
//	client, _ := unifiedllm.NewClientFromEnv()
//	factory := agentloop.NewLLMSessionFactory(client, registry.ToolDefs())
//	cfg := agentloop.DefaultSessionConfig()
//	cfg.Models = []string{"claude-opus-4-6", "claude-sonnet-4-5"}
//	session, err := agentloop.NewSession(factory, scheduler, &cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	_, err = session.SendMessage(ctx, "list the files here", func(ev agentloop.Event) {
//	    fmt.Printf("[%s] %s\n", ev.Kind, ev.Text)
//	})
package agentloop
