package sharestore

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/keyshard/keyshard/interfaces"
)

// MockShareStore mocks the ShareStore interface
type MockShareStore struct {
	mock.Mock
}

// Pubkey mocks the Pubkey method
func (m *MockShareStore) Pubkey(ctx context.Context) (interfaces.TssPubkey, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.TssPubkey), args.Error(1)
}

// Nonce mocks the Nonce method
func (m *MockShareStore) Nonce(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Error(1)
}

// GenerateKey mocks the GenerateKey method
func (m *MockShareStore) GenerateKey(ctx context.Context) (interfaces.TssPubkey, error) {
	args := m.Called(ctx)
	return args.Get(0).(interfaces.TssPubkey), args.Error(1)
}

// ImportKey mocks the ImportKey method
func (m *MockShareStore) ImportKey(ctx context.Context, tssKey []byte) (interfaces.TssPubkey, error) {
	args := m.Called(ctx, tssKey)
	return args.Get(0).(interfaces.TssPubkey), args.Error(1)
}

// IssueShare mocks the IssueShare method
func (m *MockShareStore) IssueShare(ctx context.Context, index int, factorPub interfaces.FactorPubkey) (interfaces.ShareRef, error) {
	args := m.Called(ctx, index, factorPub)
	return args.Get(0).(interfaces.ShareRef), args.Error(1)
}

// Reconstruct mocks the Reconstruct method
func (m *MockShareStore) Reconstruct(ctx context.Context, factorKey interfaces.FactorKey, ref interfaces.ShareRef) (interfaces.SigningMaterial, error) {
	args := m.Called(ctx, factorKey, ref)
	return args.Get(0).(interfaces.SigningMaterial), args.Error(1)
}

// RevokeShare mocks the RevokeShare method
func (m *MockShareStore) RevokeShare(ctx context.Context, ref interfaces.ShareRef) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

// RefreshShares mocks the RefreshShares method
func (m *MockShareStore) RefreshShares(ctx context.Context, factors map[interfaces.FactorPubkey]int) (uint64, map[interfaces.FactorPubkey]interfaces.ShareRef, error) {
	args := m.Called(ctx, factors)
	return args.Get(0).(uint64), args.Get(1).(map[interfaces.FactorPubkey]interfaces.ShareRef), args.Error(2)
}

var _ interfaces.ShareStore = (*MockShareStore)(nil)
