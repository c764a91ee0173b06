package auth

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("caller is not authorized")

// AccessList is the capability object both engines and the orchestrator are
// constructed with. The owner can grant or revoke callers; the owner itself
// is always allowed.
type AccessList struct {
	mu         sync.RWMutex
	owner      common.Address
	authorized map[common.Address]bool
}

func NewAccessList(owner common.Address) *AccessList {
	return &AccessList{
		owner:      owner,
		authorized: map[common.Address]bool{},
	}
}

func (a *AccessList) Owner() common.Address {
	return a.owner
}

// SetAuthorizedCaller grants or revokes target. Only the owner may call.
func (a *AccessList) SetAuthorizedCaller(caller, target common.Address, allowed bool) error {
	if caller != a.owner {
		return ErrUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if allowed {
		a.authorized[target] = true
	} else {
		delete(a.authorized, target)
	}
	return nil
}

func (a *AccessList) Allowed(caller common.Address) bool {
	if caller == a.owner {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.authorized[caller]
}

// Require is the gate the engines call at the top of restricted operations.
func (a *AccessList) Require(caller common.Address) error {
	if !a.Allowed(caller) {
		return ErrUnauthorized
	}
	return nil
}
