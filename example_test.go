package orchestra_test

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/pkg/domain"
)

// ExampleEngine_Run builds a graph in code and runs it to completion.
func ExampleEngine_Run() {
	eng, err := orchestra.New()
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	eng.RegisterTask("shout", func(_ context.Context, _ domain.ExecutionContext, args map[string]any) (map[string]any, error) {
		return map[string]any{"text": strings.ToUpper(args["text"].(string))}, nil
	})

	sm := &domain.StateMachine{
		ID:               "greeting",
		InitialStateName: "Shout",
		Definitions: []domain.StateDefinition{
			{Name: "Shout", Type: domain.StateTypeTask, Config: map[string]any{
				"task": "shout",
				"args": map[string]any{"text": "hello ${host.name}"},
			}},
			{Name: "Echo", Type: domain.StateTypeTask, Config: map[string]any{
				"task": "shout",
				"args": map[string]any{"text": "${Shout.text}!"},
			}},
		},
		Transitions: []domain.Transition{
			{From: "Shout", To: "Echo", Type: domain.TransitionSuccess},
		},
	}

	ctx := context.Background()
	if err := eng.Load(ctx, sm); err != nil {
		log.Fatal(err)
	}

	result, err := eng.Run(ctx, "greeting", "run-1", []domain.ContextElement{{Type: domain.ElementHost, Name: "web-1"}})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(result.StateName, result.Status)

	chain, _ := eng.RunInstances(ctx, "run-1")
	last := chain[len(chain)-1]
	fmt.Println(last.ExecutionData().Data["text"])

	// Output:
	// Echo SUCCESS
	// HELLO WEB-1!
}
