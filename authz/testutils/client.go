package testutils

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kompo/authlib/types"
)

type MockRegistry struct {
	mock.Mock
}

func (_m *MockRegistry) FindByKey(ctx context.Context, key string) (*types.Permission, error) {
	ret := _m.Called(ctx, key)

	var r0 *types.Permission
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*types.Permission, error)); ok {
		return rf(ctx, key)
	}
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*types.Permission)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, key)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

type MockActor struct {
	mock.Mock
	Subject string
}

func (_m *MockActor) GetSubject() string {
	return _m.Subject
}

func (_m *MockActor) HasPermission(ctx context.Context, key string, typ types.PermissionType, team *types.TeamID) (bool, error) {
	ret := _m.Called(ctx, key, typ, team)

	if rf, ok := ret.Get(0).(func(context.Context, string, types.PermissionType, *types.TeamID) (bool, error)); ok {
		return rf(ctx, key, typ, team)
	}
	return ret.Bool(0), ret.Error(1)
}
