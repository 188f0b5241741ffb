// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/listfill/internal/account"
	"github.com/xkilldash9x/listfill/internal/action"
	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/catalog"
	"github.com/xkilldash9x/listfill/internal/session"
	"github.com/xkilldash9x/listfill/internal/store"
)

// -- Session Mock --

// MockSessionManager mocks the session manager used by the orchestrator and the executor.
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) Establish(ctx context.Context, page browser.Page, acc account.Account) (*session.Session, error) {
	args := m.Called(ctx, page, acc)
	if s, ok := args.Get(0).(*session.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionManager) Authenticate(ctx context.Context, page browser.Page, acc account.Account) (*session.Session, error) {
	args := m.Called(ctx, page, acc)
	if s, ok := args.Get(0).(*session.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionManager) IsValid(ctx context.Context, page browser.Page) (bool, error) {
	args := m.Called(ctx, page)
	return args.Bool(0), args.Error(1)
}

// -- Catalog Mock --

// MockScanner mocks the catalog scanner.
type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) ScanPage(ctx context.Context, page browser.Page, pageIndex int) ([]catalog.Entry, error) {
	args := m.Called(ctx, page, pageIndex)
	if entries, ok := args.Get(0).([]catalog.Entry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

// -- Action Mock --

// MockExecutor mocks the add-action executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Add(ctx context.Context, page browser.Page, acc account.Account, entryID, attempt int) (action.Result, error) {
	args := m.Called(ctx, page, acc, entryID, attempt)
	return args.Get(0).(action.Result), args.Error(1)
}

// -- Store Mock --

// MockRecorder mocks the outcome sink.
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordAccount(ctx context.Context, run store.AccountRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}
