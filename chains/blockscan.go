package chains

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockScanner discovers native ETH transfers by walking new blocks and
// matching transaction recipients against the watched addresses. The cursor
// lives in memory: after a restart scanning resumes lookback blocks behind head.
type BlockScanner struct {
	ethNode
	params    Params
	lookback  uint64
	maxBlocks uint64

	mu      sync.Mutex
	started bool
	next    uint64
}

func NewBlockScanner(backend EthBackend, lookback, maxBlocks uint64, attempts int) *BlockScanner {
	if maxBlocks == 0 {
		maxBlocks = 1
	}
	return &BlockScanner{
		ethNode:   ethNode{backend: backend, attempts: attempts},
		params:    Params{Decimals: 18},
		lookback:  lookback,
		maxBlocks: maxBlocks,
	}
}

// Cursor returns the next block number to scan.
func (s *BlockScanner) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Scan returns the transfers to watched addresses in the blocks since the
// previous scan, keyed by lower-cased address. At most maxBlocks are read per
// call. On error the transfers found so far are returned and the cursor stays
// at the failed block.
func (s *BlockScanner) Scan(ctx context.Context, watched []string) (map[string][]Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, err := s.head(ctx)
	if err != nil {
		return nil, err
	}
	if !s.started {
		s.started = true
		if head > s.lookback {
			s.next = head - s.lookback
		}
	}

	found := map[string][]Transfer{}
	if len(watched) == 0 {
		s.next = head + 1
		return found, nil
	}
	set := make(map[string]struct{}, len(watched))
	for _, a := range watched {
		set[strings.ToLower(a)] = struct{}{}
	}

	if s.next > head {
		return found, nil
	}
	end := head
	if end-s.next+1 > s.maxBlocks {
		end = s.next + s.maxBlocks - 1
	}
	for n := s.next; n <= end; n++ {
		number := new(big.Int).SetUint64(n)
		block, err := retry(ctx, s.attempts, func() (*types.Block, error) {
			return s.backend.BlockByNumber(ctx, number)
		})
		if err != nil {
			return found, err
		}
		for _, tx := range block.Transactions() {
			to := tx.To()
			if to == nil || tx.Value().Sign() <= 0 {
				continue
			}
			key := strings.ToLower(to.Hex())
			if _, ok := set[key]; !ok {
				continue
			}
			found[key] = append(found[key], Transfer{
				TxHash: tx.Hash().Hex(),
				To:     to.Hex(),
				Amount: s.params.FromBaseUnits(tx.Value()),
			})
		}
		s.next = n + 1
	}
	return found, nil
}
