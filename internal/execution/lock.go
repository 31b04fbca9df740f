package execution

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"

	clierr "github.com/ggonzalez94/polygon-agent/internal/errors"
)

const sendLockTimeout = 30 * time.Second

var signerNonceLocks sync.Map

func signerLockKey(chainID *big.Int, addr common.Address) string {
	return fmt.Sprintf("%s-%s", chainID.String(), strings.ToLower(addr.Hex()))
}

// acquireSignerNonceLock serializes sends from one key on one chain within
// the process, from nonce fetch through broadcast.
func acquireSignerNonceLock(chainID *big.Int, addr common.Address) func() {
	v, _ := signerNonceLocks.LoadOrStore(signerLockKey(chainID, addr), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// acquireSendLock adds a lock file under dir so separate processes sharing a
// key do not race on the pending nonce. An empty dir skips the file lock.
func acquireSendLock(ctx context.Context, dir string, chainID *big.Int, addr common.Address) (func(), error) {
	unlock := acquireSignerNonceLock(chainID, addr)
	if strings.TrimSpace(dir) == "" {
		return unlock, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		unlock()
		return nil, fmt.Errorf("create send lock directory: %w", err)
	}
	fl := flock.New(filepath.Join(dir, signerLockKey(chainID, addr)+".lock"))
	lockCtx, cancel := context.WithTimeout(ctx, sendLockTimeout)
	defer cancel()
	locked, err := fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		unlock()
		if err == nil {
			err = fmt.Errorf("lock held by another process")
		}
		return nil, clierr.Wrap(clierr.CodeTimeout, "acquire send lock", err)
	}
	return func() {
		_ = fl.Unlock()
		unlock()
	}, nil
}
