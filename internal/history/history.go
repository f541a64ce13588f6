package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/tradecore/internal/domain"
	"github.com/betbot/tradecore/pkg/logger"
)

var histLog = logger.WithField("module", "history")

// Recorder 决策历史记录器（Badger）
//
// 键格式 "decision:<symbol>:<unix_nano>"，按时间自然有序，
// 条目带 TTL 自动过期。只追加，不更新。
type Recorder struct {
	db  *badger.DB
	ttl time.Duration
}

type OpenOptions struct {
	Path string
	TTL  time.Duration // <=0 表示永久保留
}

func Open(opts OpenOptions) (*Recorder, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("history: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "history: open badger")
	}
	return &Recorder{db: db, ttl: opts.TTL}, nil
}

func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func decisionKey(symbol string, t time.Time) []byte {
	return []byte(fmt.Sprintf("decision:%s:%020d", symbol, t.UnixNano()))
}

// Record 追加一条协调决策
func (r *Recorder) Record(d domain.CoordinatedDecision) error {
	if r == nil || r.db == nil {
		return errors.New("history: not opened")
	}

	val, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "history: marshal decision")
	}

	at := d.DecidedAt
	if at.IsZero() {
		at = time.Now()
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(decisionKey(d.Symbol, at), val)
		if r.ttl > 0 {
			entry = entry.WithTTL(r.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return errors.Wrap(err, "history: write decision")
	}

	histLog.Debugf("💾 决策已记录: %s %s score=%.3f", d.Symbol, d.Action, d.CombinedScore)
	return nil
}

// Recent 返回某 symbol 最近的 limit 条决策，新的在前
func (r *Recorder) Recent(symbol string, limit int) ([]domain.CoordinatedDecision, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history: not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	prefix := []byte("decision:" + symbol + ":")
	var out []domain.CoordinatedDecision

	err := r.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = prefix
		iopts.Reverse = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		// 反向迭代从前缀区间的上界开始
		seek := append(append([]byte{}, prefix...), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var d domain.CoordinatedDecision
				if err := json.Unmarshal(val, &d); err != nil {
					return err
				}
				out = append(out, d)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "history: read decisions")
	}
	return out, nil
}
