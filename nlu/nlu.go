// Package nlu resolves free text voice commands to the name of a saved
// location with a chat completion model
package nlu

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// ErrNoMatch is returned when the model does not answer with a known location
var ErrNoMatch = errors.New("no known location matches the command")

// ErrEmptyCommand is returned for blank input
var ErrEmptyCommand = errors.New("empty command")

const (
	// DefaultModel is the chat model queried
	DefaultModel = openai.GPT3Dot5Turbo

	// MaxTokens bounds the reply, which should be a single name
	MaxTokens = 10

	// Temperature keeps the answer close to deterministic
	Temperature = 0.1

	// DefaultRPS is the default request rate to the model
	DefaultRPS = 1.0

	// DefaultBurst is the default number of requests allowed at once
	DefaultBurst = 3
)

// Completer is the part of the OpenAI client the resolver uses.
// *openai.Client is a Completer.
type Completer interface {
	CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Resolver turns commands into location names
type Resolver struct {
	c       Completer
	limiter *rate.Limiter

	// Model is the chat model to query
	Model string

	// MaxElapsed bounds the time spent retrying a throttled or failed request.
	// Zero means do not retry.
	MaxElapsed time.Duration
}

// NewResolver returns a resolver that queries c at no more than rps requests
// per second with the given burst.  Zero values take the defaults.
func NewResolver(c Completer, rps float64, burst int) *Resolver {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &Resolver{
		c:          c,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		Model:      DefaultModel,
		MaxElapsed: 10 * time.Second}
}

// NewOpenAI returns a resolver backed by the OpenAI API
func NewOpenAI(apiKey string, rps float64, burst int) *Resolver {
	return NewResolver(openai.NewClient(apiKey), rps, burst)
}

// Normalize trims and lowercases a command
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Prompt is the question put to the model
func Prompt(text string, names []string) string {
	return fmt.Sprintf("These are the known locations: %s.\n"+
		"Given the voice command: \"%s\", which location should the laser point to?\n"+
		"Respond with exactly one of the names, or say \"none\" if nothing matches.",
		strings.Join(names, ", "), text)
}

// retryable reports if the API error is throttling or a server fault
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

// Resolve asks the model which of names the command refers to.  The trimmed
// reply is always returned; err is ErrNoMatch when the reply is not one of
// names, which includes the model answering "none".
func (r *Resolver) Resolve(ctx context.Context, text string, names []string) (string, error) {
	text = Normalize(text)
	if text == "" {
		return "", ErrEmptyCommand
	}
	req := openai.ChatCompletionRequest{
		Model: r.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(text, names)},
		},
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
	}

	var resp openai.ChatCompletionResponse
	op := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var err error
		resp, err = r.c.CreateChatCompletion(ctx, req)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     250 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      r.MaxElapsed,
		Clock:               backoff.SystemClock}
	var policy backoff.BackOff = b
	if r.MaxElapsed <= 0 {
		policy = &backoff.StopBackOff{}
	}
	b.Reset()
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		return "", errors.Wrap(err, "querying language model")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("language model returned no choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Printf("nlu: %q -> %q\n", text, reply)
	for _, n := range names {
		if n == reply {
			return reply, nil
		}
	}
	return reply, ErrNoMatch
}
