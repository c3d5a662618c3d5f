// Package tools is the tool executor: given one assistant turn's tool
// calls, it dispatches each concurrently to a built-in or a loaded user
// tool and returns tool-result messages in the original call order.
package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentloom/agentloom/internal/metrics"
	"github.com/agentloom/agentloom/internal/router"
	"github.com/agentloom/agentloom/internal/scripthost"
	"github.com/agentloom/agentloom/internal/wstore"
)

const userToolTimeout = 30 * time.Second

// Dispatcher executes tool calls against a fixed set of loaded user
// tools plus the three built-ins, for the duration of one round.
type Dispatcher struct {
	Tools  []*scripthost.Tool
	Router *router.Router
}

// Result is one tool call's outcome, paired back to its call for
// order-preserving assembly by the caller.
type Result struct {
	Message   wstore.Message
	ShouldWait bool
}

// DispatchAll runs every call concurrently and returns results in the
// same order as calls.
func (d *Dispatcher) DispatchAll(calls []wstore.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call wstore.ToolCall) {
			defer wg.Done()
			results[i] = d.dispatch(call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) dispatch(call wstore.ToolCall) Result {
	var result Result
	switch call.Name {
	case "think":
		result = think(call)
	case "reply":
		result = d.reply(call)
	case "wait_for":
		result = waitFor(call)
	default:
		result = d.userTool(call)
	}

	status := "ok"
	if strings.HasPrefix(result.Message.Content, "ERROR:") {
		status = "error"
	}
	metrics.RecordToolCall(call.Name, status)
	return result
}

func think(call wstore.ToolCall) Result {
	return Result{Message: toolMessage(call.ID, "OK")}
}

func (d *Dispatcher) reply(call wstore.ToolCall) Result {
	source, _ := call.Args["source"].(string)
	content, _ := call.Args["content"].(string)

	result, err := d.Router.Deliver(source, content, nil)
	if err != nil {
		return Result{Message: toolMessage(call.ID, fmt.Sprintf("ERROR: %s", err))}
	}

	confirmation := fmt.Sprintf("delivered to %s", result.Destination)
	if result.Destination == "outbox" {
		confirmation = fmt.Sprintf("queued in outbox as %s", result.OutboxID)
	}
	return Result{Message: toolMessage(call.ID, confirmation)}
}

func waitFor(call wstore.ToolCall) Result {
	return Result{
		Message:    toolMessage(call.ID, "waiting for next message"),
		ShouldWait: true,
	}
}

func (d *Dispatcher) userTool(call wstore.ToolCall) Result {
	for _, t := range d.Tools {
		if t.Name != call.Name {
			continue
		}
		return d.runUserTool(t, call)
	}
	return Result{Message: toolMessage(call.ID, fmt.Sprintf("ERROR: unknown tool %q", call.Name))}
}

func (d *Dispatcher) runUserTool(t *scripthost.Tool, call wstore.ToolCall) Result {
	type outcome struct {
		res scripthost.ToolResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.Execute(call.Args)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Message: toolMessage(call.ID, fmt.Sprintf("ERROR: %s", o.err))}
		}
		return Result{
			Message:    toolMessage(call.ID, o.res.Result),
			ShouldWait: o.res.Action == "wait",
		}
	case <-time.After(userToolTimeout):
		return Result{Message: toolMessage(call.ID, fmt.Sprintf(
			"ERROR: Tool %q timed out after %dms", call.Name, userToolTimeout.Milliseconds()))}
	}
}

func toolMessage(callID, content string) wstore.Message {
	return wstore.Message{Role: wstore.RoleTool, Content: content, ToolCallID: callID}
}
