package modelclient

import (
	"context"
	"fmt"
	"strings"
)

// MockClient returns deterministic responses for local runs and tests.
type MockClient struct {
	responses       map[string]string
	defaultResponse string
	Calls           []string
	ModelsUsed      []string
	Err             error
}

// NewMockClient creates a mock client with a default response.
func NewMockClient() *MockClient {
	return &MockClient{
		responses:       make(map[string]string),
		defaultResponse: "mock response",
	}
}

// Respond registers a canned response for prompts containing substr.
func (c *MockClient) Respond(substr, response string) {
	c.responses[substr] = response
}

// SetDefault overrides the fallback response.
func (c *MockClient) SetDefault(response string) {
	c.defaultResponse = response
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return "mock"
}

// Models returns the supported mock models.
func (c *MockClient) Models() []string {
	return []string{"mock-1"}
}

// Complete records the prompt and returns the first matching canned
// response, falling back to the default.
func (c *MockClient) Complete(_ context.Context, model string, prompt string) (string, error) {
	c.Calls = append(c.Calls, prompt)
	c.ModelsUsed = append(c.ModelsUsed, model)
	if c.Err != nil {
		return "", c.Err
	}
	for substr, response := range c.responses {
		if strings.Contains(prompt, substr) {
			return response, nil
		}
	}
	if model == "" {
		model = "mock-1"
	}
	return fmt.Sprintf("%s (%s)", c.defaultResponse, model), nil
}
