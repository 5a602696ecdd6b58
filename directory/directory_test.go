package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func TestGrants(t *testing.T) {
	tests := []struct {
		granted string
		want    string
		ok      bool
	}{
		{"*", CapBillingCancel, true},
		{"billing:*", CapBillingCancel, true},
		{"billing:*", CapPaymentsCreate, false},
		{CapDocumentsRead, CapDocumentsRead, true},
		{CapDocumentsRead, CapDocumentsDelete, false},
		{"billing", CapBillingRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.granted+"/"+tt.want, func(t *testing.T) {
			if got := Grants(tt.granted, tt.want); got != tt.ok {
				t.Errorf("Grants(%q, %q) = %v, want %v", tt.granted, tt.want, got, tt.ok)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	ctx := context.Background()
	d := NewStatic().AddCase("case-1").Grant("alice", "billing:*")

	if ok, _ := d.CaseExists(ctx, "case-1"); !ok {
		t.Error("case-1 should exist")
	}
	if ok, _ := d.CaseExists(ctx, "case-2"); ok {
		t.Error("case-2 should not exist")
	}
	if ok, _ := d.UserHasCapability(ctx, "alice", CapBillingCreate); !ok {
		t.Error("alice should hold billing:create")
	}
	if ok, _ := d.UserHasCapability(ctx, "alice", CapDocumentsRead); ok {
		t.Error("alice should not hold documents:read")
	}

	d.Revoke("alice")
	if ok, _ := d.UserHasCapability(ctx, "alice", CapBillingCreate); ok {
		t.Error("revoked actor still holds a capability")
	}
}

type countingDirectory struct {
	Directory
	calls int
}

func (c *countingDirectory) UserHasCapability(ctx context.Context, actor, capability string) (bool, error) {
	c.calls++
	return c.Directory.UserHasCapability(ctx, actor, capability)
}

func TestCachedMissThenHit(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	next := &countingDirectory{Directory: NewStatic().Grant("bob", CapPaymentsCreate)}
	c := NewCached(next, rdb, WithTTL(time.Minute), WithKeyPrefix("t:"))

	key := "t:cap:bob:" + CapPaymentsCreate
	mock.ExpectGet(key).RedisNil()
	mock.ExpectSet(key, "1", time.Minute).SetVal("OK")
	mock.ExpectGet(key).SetVal("1")

	for range 2 {
		ok, err := c.UserHasCapability(ctx, "bob", CapPaymentsCreate)
		if err != nil {
			t.Fatalf("UserHasCapability: %v", err)
		}
		if !ok {
			t.Fatal("expected capability")
		}
	}

	if next.calls != 1 {
		t.Errorf("directory calls = %d, want 1", next.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCachedNegativeAnswer(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	c := NewCached(NewStatic(), rdb, WithTTL(time.Minute), WithKeyPrefix("t:"))

	mock.ExpectGet("t:case:missing").RedisNil()
	mock.ExpectSet("t:case:missing", "0", time.Minute).SetVal("OK")

	ok, err := c.CaseExists(ctx, "missing")
	if err != nil {
		t.Fatalf("CaseExists: %v", err)
	}
	if ok {
		t.Error("missing case reported as existing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCachedRedisDown(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	c := NewCached(NewStatic().AddCase("c1"), rdb, WithTTL(time.Minute), WithKeyPrefix("t:"))

	mock.ExpectGet("t:case:c1").SetErr(errors.New("connection refused"))
	mock.ExpectSet("t:case:c1", "1", time.Minute).SetErr(errors.New("connection refused"))

	ok, err := c.CaseExists(ctx, "c1")
	if err != nil {
		t.Fatalf("CaseExists should degrade to the wrapped directory: %v", err)
	}
	if !ok {
		t.Error("c1 should exist")
	}
}

func TestCachedInvalidate(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	c := NewCached(NewStatic(), rdb, WithKeyPrefix("t:"))

	mock.ExpectDel("t:cap:bob:"+CapBillingRead, "t:cap:bob:"+CapBillingCreate).SetVal(2)

	if err := c.Invalidate(ctx, "bob", CapBillingRead, CapBillingCreate); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
