package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"home-control/environment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockService はテスト用のモックサービス
type mockService struct {
	mock.Mock
	id string
}

func (m *mockService) Identifier() string { return m.id }

func (m *mockService) Initialize(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *mockService) Validate(options json.RawMessage) bool {
	return m.Called(string(options)).Bool(0)
}

// commandService also answers commands
type commandService struct {
	mockService
}

func (c *commandService) HandleCommand(ctx context.Context, client Client, command string, params json.RawMessage) (any, bool, error) {
	args := c.Called(client, command, string(params))
	return args.Get(0), args.Bool(1), args.Error(2)
}

type fakeClient struct{ id string }

func (f fakeClient) ID() string                                   { return f.id }
func (f fakeClient) Push(service, event string, payload any) error { return nil }

func newMockService(id string, initOK bool) *mockService {
	svc := &mockService{id: id}
	svc.On("Initialize", mock.Anything).Return(initOK)
	return svc
}

func mustEnvironment(t *testing.T, source string) *environment.Environment {
	t.Helper()
	env, err := environment.FromSource(strings.NewReader(source))
	require.NoError(t, err)
	return env
}

func TestAddService(t *testing.T) {
	m := NewManager()
	hue := newMockService("Philips Hue", true)
	thermo := newMockService("Thermostat", true)

	require.NoError(t, m.AddService(context.Background(), hue))
	require.NoError(t, m.AddService(context.Background(), thermo))

	services := m.Services()
	require.Len(t, services, 2)
	assert.Equal(t, "Philips Hue", services[0].Identifier())
	assert.Equal(t, "Thermostat", services[1].Identifier())

	svc, ok := m.Service("Thermostat")
	assert.True(t, ok)
	assert.Same(t, thermo, svc)

	hue.AssertNumberOfCalls(t, "Initialize", 1)
}

func TestAddService_Duplicate(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.AddService(context.Background(), newMockService("Philips Hue", true)))

	second := newMockService("Philips Hue", true)
	err := m.AddService(context.Background(), second)
	assert.ErrorIs(t, err, ErrDuplicateService)
	second.AssertNotCalled(t, "Initialize", mock.Anything)
	assert.Len(t, m.Services(), 1)
}

func TestAddService_InitializationFailure(t *testing.T) {
	m := NewManager()
	svc := newMockService("Philips Hue", false)

	err := m.AddService(context.Background(), svc)

	var initErr *InitializationError
	require.True(t, errors.As(err, &initErr))
	assert.Equal(t, "Philips Hue", initErr.Identifier)
	_, registered := m.Service("Philips Hue")
	assert.False(t, registered)
}

func TestValidateEnvironment(t *testing.T) {
	m := NewManager()
	svc := newMockService("Philips Hue", true)
	svc.On("Validate", mock.Anything).Return(true)
	require.NoError(t, m.AddService(context.Background(), svc))

	env := mustEnvironment(t, `{
		"rooms": ["Kitchen", "Office"],
		"services": {
			"Kitchen": [{"label": "Lights", "service": "Philips Hue", "options": {"lights": ["1"]}}],
			"Office": [{"label": "Desk", "service": "Philips Hue"}]
		}
	}`)

	assert.NoError(t, m.ValidateEnvironment(env))
	svc.AssertCalled(t, "Validate", `{"lights": ["1"]}`)
	svc.AssertCalled(t, "Validate", `{}`)
	svc.AssertNumberOfCalls(t, "Validate", 2)
}

func TestValidateEnvironment_ChecksEveryDescriptor(t *testing.T) {
	m := NewManager()
	svc := newMockService("Philips Hue", true)
	svc.On("Validate", `{"bad":true}`).Return(false)
	svc.On("Validate", mock.Anything).Return(true)
	require.NoError(t, m.AddService(context.Background(), svc))

	env := mustEnvironment(t, `{
		"rooms": ["Kitchen", "Office"],
		"services": {
			"Kitchen": [
				{"label": "Broken", "service": "Philips Hue", "options": {"bad":true}},
				{"label": "Radio", "service": "Sonos"}
			],
			"Office": [{"label": "Desk", "service": "Philips Hue"}]
		}
	}`)

	err := m.ValidateEnvironment(env)

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	require.Len(t, validationErr.Failures, 2)
	assert.Equal(t, "Broken", validationErr.First().Label)
	assert.Equal(t, "Sonos", validationErr.Failures[1].Service)
	assert.Equal(t, "unknown service", validationErr.Failures[1].Reason)

	// The valid descriptor after the failures was still checked.
	svc.AssertCalled(t, "Validate", `{}`)

	// Same environment, same outcome.
	again := m.ValidateEnvironment(env)
	assert.Equal(t, err.Error(), again.Error())
}

func TestDispatchCommand(t *testing.T) {
	m := NewManager()
	svc := &commandService{mockService: mockService{id: "Philips Hue"}}
	svc.On("Initialize", mock.Anything).Return(true)
	svc.On("HandleCommand", mock.Anything, "lights", `{}`).Return(map[string]int{"count": 2}, true, nil)
	svc.On("HandleCommand", mock.Anything, "unknown", mock.Anything).Return(nil, false, nil)
	require.NoError(t, m.AddService(context.Background(), svc))

	plain := newMockService("Thermostat", true)
	require.NoError(t, m.AddService(context.Background(), plain))

	client := fakeClient{id: "conn-1"}

	result, handled, err := m.DispatchCommand(context.Background(), client, "Philips Hue/lights", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, map[string]int{"count": 2}, result)
	svc.AssertCalled(t, "HandleCommand", client, "lights", `{}`)

	tests := []string{
		"environment-rooms",  // no separator
		"Philips Hue/",       // empty command
		"Sonos/play",         // unknown service
		"Thermostat/set",     // service without commands
		"Philips Hue/unknown", // service does not claim it
	}
	for _, name := range tests {
		result, handled, err := m.DispatchCommand(context.Background(), client, name, nil)
		assert.NoError(t, err, name)
		assert.False(t, handled, name)
		assert.Nil(t, result, name)
	}
}
