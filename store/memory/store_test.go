package memory_test

import (
	"testing"

	"github.com/lexbox/ledger/store"
	"github.com/lexbox/ledger/store/memory"
	"github.com/lexbox/ledger/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}
