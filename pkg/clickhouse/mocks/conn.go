package mocks

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

// MockConn is a mock implementation of driver.Conn for testing
type MockConn struct {
	mock.Mock
}

func (m *MockConn) Contributors() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockConn) ServerVersion() (*driver.ServerVersion, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*driver.ServerVersion), args.Error(1)
}

func (m *MockConn) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *MockConn) Query(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil, argsResult.Error(1)
	}
	return argsResult.Get(0).(driver.Rows), argsResult.Error(1)
}

func (m *MockConn) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil
	}
	return argsResult.Get(0).(driver.Row)
}

func (m *MockConn) Exec(ctx context.Context, query string, args ...interface{}) error {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *MockConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...interface{}) error {
	callArgs := []interface{}{ctx, query, wait}
	callArgs = append(callArgs, args...)
	argsResult := m.Called(callArgs...)
	return argsResult.Error(0)
}

func (m *MockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	callArgs := []interface{}{ctx, query}
	for _, opt := range opts {
		callArgs = append(callArgs, opt)
	}
	argsResult := m.Called(callArgs...)
	if argsResult.Get(0) == nil {
		return nil, argsResult.Error(1)
	}
	return argsResult.Get(0).(driver.Batch), argsResult.Error(1)
}

func (m *MockConn) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockConn) Stats() driver.Stats {
	args := m.Called()
	if args.Get(0) == nil {
		return driver.Stats{}
	}
	return args.Get(0).(driver.Stats)
}

func (m *MockConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

// Row is a static driver.Row returning fixed values or an error.
type Row struct {
	Values []any
	Error  error
}

func (r Row) Err() error { return r.Error }

func (r Row) Scan(dest ...any) error {
	if r.Error != nil {
		return r.Error
	}
	return assign(r.Values, dest)
}

func (r Row) ScanStruct(dest any) error {
	return errors.New("ScanStruct not supported by mocks.Row")
}

// Rows is a static driver.Rows iterating over fixed value tuples.
type Rows struct {
	Values  [][]any
	ScanErr error
	IterErr error

	idx    int
	closed bool
}

func (r *Rows) Next() bool {
	if r.closed || r.idx >= len(r.Values) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
	}
	if r.idx == 0 {
		return errors.New("Scan called before Next")
	}
	return assign(r.Values[r.idx-1], dest)
}

func (r *Rows) ScanStruct(dest any) error {
	return errors.New("ScanStruct not supported by mocks.Rows")
}

func (r *Rows) ColumnTypes() []driver.ColumnType { return nil }

func (r *Rows) Totals(dest ...any) error { return nil }

func (r *Rows) Columns() []string { return nil }

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

func (r *Rows) Err() error { return r.IterErr }

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed }

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("unexpected dest len: got %d, want %d", len(dest), len(values))
	}
	for i, v := range values {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("dest %d is not a non-nil pointer", i)
		}
		sv := reflect.ValueOf(v)
		if !sv.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf("dest %d: cannot assign %T to %s", i, v, dv.Elem().Type())
		}
		dv.Elem().Set(sv)
	}
	return nil
}
