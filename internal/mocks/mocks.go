package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/directory"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) Insert(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageStoreMock) Get(ctx context.Context, id string) (models.Message, error) {
	args := m.Called(ctx, id)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) MarkDelivered(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	args := m.Called(ctx, id, receiverID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MessageStoreMock) MarkRead(ctx context.Context, id string, receiverID int, at time.Time) (bool, error) {
	args := m.Called(ctx, id, receiverID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MessageStoreMock) MarkFailed(ctx context.Context, id string, reason string, at time.Time) error {
	args := m.Called(ctx, id, reason, at)
	return args.Error(0)
}

func (m *MessageStoreMock) MarkDeleted(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MessageStoreMock) Thread(ctx context.Context, userA, userB int, limit int, before time.Time) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB, limit, before)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) Undelivered(ctx context.Context, receiverID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, receiverID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) UnreadCount(ctx context.Context, receiverID int) (int, error) {
	args := m.Called(ctx, receiverID)
	return args.Int(0), args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) GetUser(ctx context.Context, userID int) (directory.UserProfile, error) {
	args := m.Called(ctx, userID)
	var profile directory.UserProfile
	if val := args.Get(0); val != nil {
		profile = val.(directory.UserProfile)
	}
	return profile, args.Error(1)
}

func (m *DirectoryMock) BulkUsers(ctx context.Context, userIDs []int) (map[int]directory.UserProfile, error) {
	args := m.Called(ctx, userIDs)
	var profiles map[int]directory.UserProfile
	if val := args.Get(0); val != nil {
		profiles = val.(map[int]directory.UserProfile)
	}
	return profiles, args.Error(1)
}

var _ repositories.MessageStore = (*MessageStoreMock)(nil)
var _ directory.Directory = (*DirectoryMock)(nil)
