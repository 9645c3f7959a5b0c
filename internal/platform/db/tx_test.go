package db

import (
	"context"
	"errors"
	"testing"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), txKey{}, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx for wrong type, got %v", tx)
	}
}

func TestNoopTransactor_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := NoopTransactor{}.WithTx(context.Background(), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestNoopTransactor_RunsFn(t *testing.T) {
	called := false
	_ = NoopTransactor{}.WithTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !called {
		t.Error("expected fn to be called")
	}
}
