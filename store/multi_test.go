package store_test

import (
	"errors"
	"testing"

	"gitlab.com/pscanner/mock"
	"gitlab.com/pscanner/pscan"
	"gitlab.com/pscanner/store"
)

func TestMulti(t *testing.T) {
	good := mock.MakeMockAlertStore()
	bad := mock.MakeMockAlertStore()
	bad.AppendFn = func(finding *pscan.Finding) error {
		return errors.New("disk full")
	}

	m := store.Multi{bad, good}
	if err := m.Init(); err != nil {
		t.Fatalf("error init: %s\n", err)
	}

	if err := m.Append(testMakeFinding(1, "x")); err == nil {
		t.Fatalf("expected error from failing store")
	}

	if len(good.Findings()) != 1 {
		t.Fatalf("healthy store should still receive the finding")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("error closing: %s\n", err)
	}

	if !good.CloseCalled || !bad.CloseCalled {
		t.Fatalf("expected every store to be closed")
	}
}

func TestMultiInitFailure(t *testing.T) {
	opened := mock.MakeMockAlertStore()
	failing := mock.MakeMockAlertStore()
	failing.InitFn = func() error {
		return errors.New("no such host")
	}

	m := store.Multi{opened, failing}
	if err := m.Init(); err == nil {
		t.Fatalf("expected init error")
	}

	if !opened.CloseCalled {
		t.Fatalf("expected already opened stores to be closed")
	}
}
