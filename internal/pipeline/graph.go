package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vidqa/internal/conversation"
	"github.com/fyrsmithlabs/vidqa/internal/errs"
	"github.com/fyrsmithlabs/vidqa/internal/logging"
	"github.com/fyrsmithlabs/vidqa/internal/retrieval"
)

const instrumentationName = "github.com/fyrsmithlabs/vidqa/internal/pipeline"

var tracer = otel.Tracer(instrumentationName)

// Stage names a point in the turn graph.
type Stage string

const (
	StageStart      Stage = "START"
	StageRetrieving Stage = "RETRIEVING"
	StageAnswering  Stage = "ANSWERING"
	StageEnd        Stage = "END"
)

// State is the record threaded through the graph. Messages only grow.
type State struct {
	Messages   []conversation.Message
	Context    string
	AllContext string
}

// Answer returns the content of the last message.
func (s State) Answer() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[len(s.Messages)-1].Content
}

// Retriever produces the contexts for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Result, error)
}

// Generator produces one assistant message for a conversation.
type Generator interface {
	Generate(ctx context.Context, topK, full string, history []conversation.Message) (conversation.Message, error)
}

// node is one transition of the graph; run does the work of stage from.
type node struct {
	from, to Stage
	run      func(ctx context.Context, s State) (State, error)
}

// Graph is the fixed retrieve-then-answer turn.
type Graph struct {
	retriever Retriever
	generator Generator
	logger    *zap.Logger
	nodes     []node
}

// NewGraph wires the two nodes.
func NewGraph(r Retriever, g Generator, logger *zap.Logger) (*Graph, error) {
	if r == nil || g == nil {
		return nil, fmt.Errorf("%w: retriever and generator are required", errs.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gr := &Graph{retriever: r, generator: g, logger: logger}
	gr.nodes = []node{
		{from: StageRetrieving, to: StageAnswering, run: gr.retrieve},
		{from: StageAnswering, to: StageEnd, run: gr.answer},
	}
	return gr, nil
}

// Run executes every node in order. The input state is not modified; on
// error the partial state is discarded.
func (g *Graph) Run(ctx context.Context, in State) (State, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	state := State{
		Messages:   conversation.Clone(in.Messages),
		Context:    in.Context,
		AllContext: in.AllContext,
	}
	stage := StageRetrieving
	for _, n := range g.nodes {
		next, err := n.run(ctx, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("pipeline.failed_stage", string(n.from)))
			g.logger.Warn("turn aborted",
				append(logging.ContextFields(ctx),
					zap.String("stage", string(n.from)),
					zap.Error(err),
				)...,
			)
			return State{}, err
		}
		state, stage = next, n.to
	}
	span.SetAttributes(attribute.String("pipeline.stage", string(stage)))
	g.logger.Debug("turn finished",
		append(logging.ContextFields(ctx),
			zap.String("stage", string(stage)),
			zap.Int("messages", len(state.Messages)),
		)...,
	)
	return state, nil
}

// retrieve sets both contexts from the newest user message.
func (g *Graph) retrieve(ctx context.Context, s State) (State, error) {
	last, ok := conversation.LastUser(s.Messages)
	if !ok {
		return State{}, fmt.Errorf("%w: no user message to answer", errs.ErrInvalidInput)
	}
	res, err := g.retriever.Retrieve(ctx, last.Content)
	if err != nil {
		return State{}, err
	}
	s.Context = res.TopKContext
	s.AllContext = res.FullContext
	return s, nil
}

// answer appends the assistant message.
func (g *Graph) answer(ctx context.Context, s State) (State, error) {
	msg, err := g.generator.Generate(ctx, s.Context, s.AllContext, s.Messages)
	if err != nil {
		return State{}, err
	}
	s.Messages = append(s.Messages, msg)
	return s, nil
}
