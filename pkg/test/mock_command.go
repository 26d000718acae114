// Package test holds testify mocks shared by package tests.
package test

import (
	"context"

	"github.com/diamondburned/arikawa/v3/discord"
	"github.com/diamondburned/arikawa/v3/gateway"
	"github.com/stretchr/testify/mock"

	"github.com/Raikerian/go-discord-recorder/internal/commands"
)

// MockCommand is a testify mock of commands.Command.
type MockCommand struct {
	mock.Mock
}

// NewMockCommand returns a MockCommand whose expectations are asserted when
// the test ends.
func NewMockCommand(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockCommand {
	m := &MockCommand{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockCommand) Name() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockCommand) Description() string {
	args := m.Called()

	return args.String(0)
}

func (m *MockCommand) Options() []discord.CommandOption {
	args := m.Called()
	opts, _ := args.Get(0).([]discord.CommandOption)

	return opts
}

func (m *MockCommand) Execute(ctx context.Context, s commands.Responder, e *gateway.InteractionCreateEvent, data *discord.CommandInteraction) error {
	args := m.Called(ctx, s, e, data)

	return args.Error(0)
}

var _ commands.Command = (*MockCommand)(nil)
